// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/mapset"
)

// A Listener receives data and match events for a transport reader. It tracks
// the set of writers currently matched with the reader, and the number of
// unread samples the transport last reported.
//
// A zero-valued Listener is ready for use as a source of kind
// KindSubscription, but must not be copied after any method has been called.
// Listener implements the [ReaderListener] interface.
type Listener struct {
	kind Kind

	μ       sync.Mutex
	att     attachment
	matched mapset.Set[PeerID]
	rd      Reader                      // set by bind or the first OnData
	events  map[StatusType]*StatusEvent // created on demand

	avail atomic.Uint64 // unread count reported by the transport
	gen   atomic.Uint64 // incremented each time OnData stores a count
	hook  hook
}

// Kind implements a method of the [Source] interface.
func (l *Listener) Kind() Kind {
	if l.kind == 0 {
		return KindSubscription
	}
	return l.kind
}

// OnMatch implements a method of the [ReaderListener] interface.
// It records whether peer is matched, and wakes any attached wait. If the
// reader for l is known, its unread count is re-read.
func (l *Listener) OnMatch(peer PeerID, matched bool) {
	l.μ.Lock()
	if matched {
		if l.matched == nil {
			l.matched = mapset.New[PeerID]()
		}
		l.matched.Add(peer)
	} else {
		l.matched.Remove(peer)
	}
	r := l.rd
	l.att.cond.notify()
	l.μ.Unlock()

	if r != nil {
		l.refresh(r)
	}
}

// bind records r as the reader whose events l receives.
func (l *Listener) bind(r Reader) {
	l.μ.Lock()
	defer l.μ.Unlock()
	l.rd = r
}

// OnStatus implements the [StatusListener] interface. It delivers c to the
// status event of its type, if one has been created.
func (l *Listener) OnStatus(c StatusChange) {
	l.μ.Lock()
	e := l.events[c.Type]
	l.μ.Unlock()
	if e != nil {
		e.deliver(c)
	}
}

// statusEvent returns the status event of type t for l, creating it if
// necessary.
func (l *Listener) statusEvent(t StatusType) *StatusEvent {
	l.μ.Lock()
	defer l.μ.Unlock()
	if e, ok := l.events[t]; ok {
		return e
	}
	if l.events == nil {
		l.events = make(map[StatusType]*StatusEvent)
	}
	e := &StatusEvent{typ: t}
	l.events[t] = e
	return e
}

// OnData implements a method of the [ReaderListener] interface.
// It records the unread count reported by r, and delivers an event.
func (l *Listener) OnData(r Reader) {
	rootMetrics.dataEvents.Add(1)

	// Query the transport before acquiring the lock. The transport may hold
	// its own locks while delivering events, and calling into it with l.μ
	// held would invert the order.
	n := r.UnreadCount()

	l.μ.Lock()
	if l.rd == nil {
		l.rd = r
	}
	l.gen.Add(1)
	l.att.cond.update(func() { l.avail.Store(n) })
	l.μ.Unlock()

	l.hook.fire(l.Kind())
}

// refresh re-reads the unread count of r and wakes any attached wait. A
// count stored by OnData after refresh began takes precedence.
func (l *Listener) refresh(r Reader) {
	gen := l.gen.Load()
	n := r.UnreadCount()

	l.μ.Lock()
	defer l.μ.Unlock()
	if l.gen.Load() != gen {
		return
	}
	l.att.cond.update(func() { l.avail.Store(n) })
}

// IsReady reports whether the transport last reported unread data.
func (l *Listener) IsReady() bool { return l.avail.Load() > 0 }

// UnreadCount reports the unread count last reported by the transport.
func (l *Listener) UnreadCount() uint64 { return l.avail.Load() }

// MatchedCount reports the number of peers currently matched.
func (l *Listener) MatchedCount() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.matched.Len()
}

// IsMatched reports whether peer is currently matched.
func (l *Listener) IsMatched(peer PeerID) bool {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.matched.Has(peer)
}

// SetCallback sets the push callback for l. If cb != nil, it is first called
// once for each data event that arrived since the last callback was removed.
// If cb == nil, the current callback is removed.
func (l *Listener) SetCallback(cb Callback, ctx any) { l.hook.set(cb, ctx, l.Kind()) }

// Attached implements a method of the [Source] interface.
func (l *Listener) Attached() bool {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.att.cond != nil
}

func (l *Listener) attach(c *condition) error {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.att.attach(c)
}

func (l *Listener) detach() {
	l.μ.Lock()
	defer l.μ.Unlock()
	l.att.detach()
}
