// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"sync"
	"sync/atomic"
)

// A GuardCondition is an event source triggered manually by the program.
// It carries no data. A zero-valued GuardCondition is ready for use, but must
// not be copied after any method has been called.
type GuardCondition struct {
	μ   sync.Mutex
	att attachment

	triggered atomic.Bool
	hook      hook
}

// NewGuardCondition constructs a new untriggered guard condition.
func NewGuardCondition() *GuardCondition { return new(GuardCondition) }

// Kind implements a method of the [Source] interface.
func (g *GuardCondition) Kind() Kind { return KindGuard }

// Trigger marks g as ready and wakes any wait it is attached to. Multiple
// triggers before the condition is consumed collapse into a single ready
// state, but each trigger is delivered to the callback, if one is set.
func (g *GuardCondition) Trigger() {
	rootMetrics.guardTriggers.Add(1)

	g.μ.Lock()
	// The flag must change under the condition mutex, so that a concurrent
	// Wait cannot observe it as false and then miss the wakeup.
	g.att.cond.update(func() { g.triggered.Store(true) })
	g.μ.Unlock()

	g.hook.fire(KindGuard)
}

// IsReady reports whether g has been triggered. It does not reset g.
func (g *GuardCondition) IsReady() bool { return g.triggered.Load() }

// TakeAndReset reports whether g has been triggered, and resets it.
// A single trigger is reported at most once.
func (g *GuardCondition) TakeAndReset() bool { return g.triggered.Swap(false) }

// SetCallback sets the push callback for g. If cb != nil, it is first called
// once for each trigger that occurred since the last callback was removed (or
// since g was created). If cb == nil, the current callback is removed.
func (g *GuardCondition) SetCallback(cb Callback, ctx any) { g.hook.set(cb, ctx, KindGuard) }

// Attached implements a method of the [Source] interface.
func (g *GuardCondition) Attached() bool {
	g.μ.Lock()
	defer g.μ.Unlock()
	return g.att.cond != nil
}

func (g *GuardCondition) attach(c *condition) error {
	g.μ.Lock()
	defer g.μ.Unlock()
	return g.att.attach(c)
}

func (g *GuardCondition) detach() {
	g.μ.Lock()
	defer g.μ.Unlock()
	g.att.detach()
}
