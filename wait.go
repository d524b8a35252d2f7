// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"time"
)

// Status is the result of a call to [Wait].
type Status int

const (
	Ready    Status = 1 // at least one source may be ready
	TimedOut Status = 2 // no source became ready before the timeout
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// Forever is a timeout value that causes [Wait] to block indefinitely.
const Forever time.Duration = -1

// Wait blocks until at least one of the given sources is ready, or until the
// timeout expires. A negative timeout (such as Forever) means to wait
// indefinitely; a zero timeout means to poll the sources without blocking.
//
// Wait reports Ready if a source became ready, or TimedOut if the timeout
// expired first. A Ready result does not say which source is ready, and by
// the time the caller checks, another goroutine may have consumed the event:
// the caller must check each source. Spurious wakeups are possible.
//
// A source can be attached to only one Wait at a time. If any source is
// already attached, including by appearing twice in sources, Wait reports an
// error wrapping ErrAttached without waiting. All sources are detached before
// Wait returns, whatever the outcome. Wait panics if any source is nil.
func Wait(sources []Source, timeout time.Duration) (Status, error) {
	for i, s := range sources {
		if s == nil {
			panic(fmt.Sprintf("nil source at index %d", i))
		}
	}
	rootMetrics.waits.Add(1)

	ln, err := lend(sources)
	if err != nil {
		return 0, err
	}
	defer ln.release()

	st := ln.wait(timeout)
	if st == Ready {
		rootMetrics.waitsReady.Add(1)
	} else {
		rootMetrics.waitsTimedOut.Add(1)
	}
	return st, nil
}

// A loan is a condition lent to a set of sources for the duration of one
// Wait call. The sources hold the condition only until the loan is released.
type loan struct {
	cond *condition
	held []Source
}

// lend attaches a fresh condition to each of sources. If any source cannot
// be attached, the sources already attached are released and lend reports
// the error.
func lend(sources []Source) (*loan, error) {
	ln := &loan{cond: newCondition(), held: make([]Source, 0, len(sources))}
	for i, s := range sources {
		if err := s.attach(ln.cond); err != nil {
			ln.release()
			return nil, fmt.Errorf("attach %v source %d: %w", s.Kind(), i, err)
		}
		ln.held = append(ln.held, s)
	}
	return ln, nil
}

// release detaches all the sources holding ln.
func (ln *loan) release() {
	for _, s := range ln.held {
		s.detach()
	}
	ln.held = nil
}

// ready reports whether any source holding ln is ready. Sources report their
// readiness without taking their own locks, so it is safe to hold the
// condition mutex here.
func (ln *loan) ready() bool {
	ln.cond.μ.Lock()
	defer ln.cond.μ.Unlock()
	for _, s := range ln.held {
		if s.IsReady() {
			return true
		}
	}
	return false
}

func (ln *loan) wait(timeout time.Duration) Status {
	if ln.ready() {
		return Ready
	} else if timeout == 0 {
		return TimedOut
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		select {
		case <-ln.cond.signal:
			if ln.ready() {
				return Ready
			}
		case <-expired:
			if ln.ready() {
				return Ready
			}
			return TimedOut
		}
	}
}
