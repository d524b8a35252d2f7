// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bus

import (
	"sync"

	"github.com/creachadair/mds/queue"
)

// A mailbox is a queue of events for one endpoint, delivered in order by a
// dispatcher goroutine. Events posted after the mailbox is closed are
// discarded.
type mailbox struct {
	μ      sync.Mutex
	events queue.Queue[func()]
	closed bool
	signal chan struct{} // buffered, capacity 1
}

// newMailbox creates a mailbox and starts its dispatcher in the task group of b.
func (b *Bus) newMailbox() *mailbox {
	m := &mailbox{signal: make(chan struct{}, 1)}
	b.tasks.Go(m.run)
	return m
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// post adds f to the mailbox, reporting false if m is closed.
func (m *mailbox) post(f func()) bool {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.closed {
		return false
	}
	m.events.Add(f)
	m.wake()
	return true
}

// close closes m and discards any events not yet delivered. An event already
// being delivered runs to completion.
func (m *mailbox) close() {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.closed = true
	m.events.Clear()
	m.wake()
}

// next returns the next event, or nil if there is none. The second result is
// true if m is closed.
func (m *mailbox) next() (func(), bool) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.closed {
		return nil, true
	}
	f, _ := m.events.Pop()
	return f, false
}

// run delivers events until m is closed.
func (m *mailbox) run() error {
	for range m.signal {
		for {
			f, closed := m.next()
			if closed {
				return nil
			} else if f == nil {
				break
			}
			f()
		}
	}
	return nil
}
