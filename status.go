// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StatusType identifies a kind of status change reported for a reader.
type StatusType byte

const (
	LivelinessChanged StatusType = 1 // a matched writer became alive or not alive
	DeadlineMissed    StatusType = 2 // an expected sample did not arrive in time
)

func (s StatusType) String() string {
	switch s {
	case LivelinessChanged:
		return "LIVELINESS_CHANGED"
	case DeadlineMissed:
		return "DEADLINE_MISSED"
	default:
		return fmt.Sprintf("status %d", byte(s))
	}
}

// A StatusChange reports the current value of a reader status.
type StatusChange struct {
	Type StatusType
	Peer PeerID // the writer whose change was most recently reported

	// Count is the current value of the status: the number of live writers
	// for LivelinessChanged, or the total number of missed deadlines for
	// DeadlineMissed.
	Count int

	// CountChange is the change in Count. A transport reports the change
	// carried by a single event; StatusEvent.Take reports the sum of changes
	// since the previous take.
	CountChange int
}

// A StatusEvent is a [Source] of kind KindEvent, ready when the status of one
// type has changed for its subscription since the last call to Take.
//
// Construct a StatusEvent with [Subscription.StatusEvent].
type StatusEvent struct {
	typ StatusType

	μ      sync.Mutex
	att    attachment
	last   StatusChange
	change int

	ready atomic.Bool
	hook  hook
}

// Type reports the status type delivered by e.
func (e *StatusEvent) Type() StatusType { return e.typ }

// Kind implements a method of the [Source] interface.
func (e *StatusEvent) Kind() Kind { return KindEvent }

// IsReady reports whether a change is pending. It does not consume it.
func (e *StatusEvent) IsReady() bool { return e.ready.Load() }

// Take returns the current status with the accumulated change since the
// previous take, and resets e. It reports false if no change is pending.
func (e *StatusEvent) Take() (StatusChange, bool) {
	e.μ.Lock()
	defer e.μ.Unlock()

	var out StatusChange
	var ok bool
	e.att.cond.locked(func() {
		if !e.ready.Load() {
			return
		}
		out, ok = e.last, true
		out.CountChange = e.change
		e.change = 0
		e.ready.Store(false)
	})
	return out, ok
}

// deliver records c and wakes any attached wait.
func (e *StatusEvent) deliver(c StatusChange) {
	rootMetrics.statusEvents.Add(1)

	e.μ.Lock()
	e.att.cond.update(func() {
		e.last = c
		e.change += c.CountChange
		e.ready.Store(true)
	})
	e.μ.Unlock()

	e.hook.fire(KindEvent)
}

// SetCallback sets the push callback for e. If cb != nil, it is first called
// once for each change reported since the last callback was removed.
// If cb == nil, the current callback is removed.
func (e *StatusEvent) SetCallback(cb Callback, ctx any) { e.hook.set(cb, ctx, KindEvent) }

// Attached implements a method of the [Source] interface.
func (e *StatusEvent) Attached() bool {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.att.cond != nil
}

func (e *StatusEvent) attach(c *condition) error {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.att.attach(c)
}

func (e *StatusEvent) detach() {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.att.detach()
}
