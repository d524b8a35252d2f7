// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAttached is reported when a source is already attached to a wait.
	ErrAttached = errors.New("source is already attached")

	// ErrClosed is reported for operations on a closed endpoint or node.
	ErrClosed = errors.New("endpoint is closed")

	// ErrPeerGone is reported when a reply destination has gone away.
	ErrPeerGone = errors.New("reply destination is gone")

	// ErrNotReady is reported when a reply destination exists but has not
	// yet been matched by the transport. The operation may be retried.
	ErrNotReady = errors.New("reply destination is not matched")

	// ErrFailure is reported when the presence of a reply destination could
	// not be checked.
	ErrFailure = errors.New("presence check failed")
)

// Kind identifies the concrete type of a [Source].
type Kind byte

const (
	KindGuard        Kind = 1 // *GuardCondition
	KindSubscription Kind = 2 // *Subscription or a bare *Listener
	KindService      Kind = 3 // *Service or a bare *RequestQueue
	KindClient       Kind = 4 // *Client
	KindEvent        Kind = 5 // *StatusEvent
)

func (k Kind) String() string {
	switch k {
	case KindGuard:
		return "GUARD"
	case KindSubscription:
		return "SUBSCRIPTION"
	case KindService:
		return "SERVICE"
	case KindClient:
		return "CLIENT"
	case KindEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// A Source is an event source that can be passed to [Wait].
// The implementations of Source are defined by this package.
type Source interface {
	// Kind reports the kind of the source.
	Kind() Kind

	// IsReady reports whether the source has an event pending.
	// It does not consume the event.
	IsReady() bool

	// Attached reports whether the source is currently attached to a wait.
	Attached() bool

	// attach binds the source to c for the duration of a wait.
	// It reports ErrAttached if the source is already attached.
	attach(c *condition) error

	// detach releases the binding established by attach.
	detach()
}

// A Callback is invoked to deliver an event from a source. The ctx value is
// the one passed to SetCallback along with the callback.
//
// Callbacks are invoked synchronously on the goroutine that reported the
// event, while holding the callback lock of the source. A callback must not
// call SetCallback on the source delivering the event, nor do anything that
// delivers another event from that source (such as calling Trigger on its
// own guard condition): either will deadlock.
type Callback func(ctx any, kind Kind)

// condition is the mutex and wake-up signal shared by the sources attached
// to a single Wait call.
//
// A source that changes its readiness while attached must make the change
// while holding μ, and then call notify. The methods of condition accept a
// nil receiver, meaning no wait is attached.
type condition struct {
	μ      sync.Mutex
	signal chan struct{} // buffered, capacity 1
}

func newCondition() *condition { return &condition{signal: make(chan struct{}, 1)} }

// locked calls f while holding the mutex of c.
func (c *condition) locked(f func()) {
	if c == nil {
		f()
		return
	}
	c.μ.Lock()
	defer c.μ.Unlock()
	f()
}

// notify wakes the waiter on c, if it is not already awake.
// It does not block.
func (c *condition) notify() {
	if c == nil {
		return
	}
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// update calls f while holding the mutex of c, then wakes the waiter.
func (c *condition) update(f func()) { c.locked(f); c.notify() }

// attachment records the condition attached to a source.
// The source must hold its own lock when calling these methods.
type attachment struct{ cond *condition }

func (a *attachment) attach(c *condition) error {
	if a.cond != nil {
		return ErrAttached
	}
	a.cond = c
	return nil
}

func (a *attachment) detach() { a.cond = nil }

// hook is the push callback of a source, with catch-up of the events that
// arrived while no callback was set.
type hook struct {
	μ      sync.Mutex
	cb     Callback
	ctx    any
	unread uint64 // events not yet delivered; zero while cb != nil
}

// fire delivers one event to the callback, or records it for catch-up.
func (h *hook) fire(kind Kind) {
	h.μ.Lock()
	defer h.μ.Unlock()
	if h.cb == nil {
		h.unread++
		return
	}
	rootMetrics.callbacks.Add(1)
	h.cb(h.ctx, kind)
}

// set installs cb, first replaying it once for each recorded event.
// If cb == nil, any existing callback is removed.
func (h *hook) set(cb Callback, ctx any, kind Kind) {
	h.μ.Lock()
	defer h.μ.Unlock()
	if cb == nil {
		h.cb, h.ctx = nil, nil
		return
	}
	for range h.unread {
		rootMetrics.callbacks.Add(1)
		cb(ctx, kind)
	}
	h.unread = 0
	h.cb, h.ctx = cb, ctx
}

// pending reports the number of events recorded for catch-up.
func (h *hook) pending() uint64 {
	h.μ.Lock()
	defer h.μ.Unlock()
	return h.unread
}
