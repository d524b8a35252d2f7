// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset_test

import (
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/taskgroup"
	"github.com/creachadair/waitset"
	"github.com/fortytw2/leaktest"
)

func mustWait(t *testing.T, srcs []waitset.Source, timeout time.Duration, want waitset.Status) {
	t.Helper()
	st, err := waitset.Wait(srcs, timeout)
	if err != nil {
		t.Fatalf("Wait: unexpected error: %v", err)
	}
	if st != want {
		t.Errorf("Wait: got %v, want %v", st, want)
	}
}

func TestGuardCondition(t *testing.T) {
	g := waitset.NewGuardCondition()
	if g.IsReady() {
		t.Error("New guard condition is ready")
	}

	// Multiple triggers collapse into one ready state.
	g.Trigger()
	g.Trigger()
	g.Trigger()
	if !g.IsReady() {
		t.Error("Guard condition is not ready after trigger")
	}
	if !g.TakeAndReset() {
		t.Error("TakeAndReset: got false, want true")
	}
	if g.TakeAndReset() {
		t.Error("TakeAndReset again: got true, want false")
	}

	// The callback catches up on every trigger.
	var calls int
	g.SetCallback(func(ctx any, k waitset.Kind) {
		if k != waitset.KindGuard {
			t.Errorf("Callback kind: got %v, want %v", k, waitset.KindGuard)
		}
		calls++
	}, nil)
	if calls != 3 {
		t.Errorf("Catch-up calls: got %d, want 3", calls)
	}
	g.Trigger()
	if calls != 4 {
		t.Errorf("Calls after trigger: got %d, want 4", calls)
	}
	g.SetCallback(nil, nil)
	g.Trigger()
	if calls != 4 {
		t.Errorf("Calls after removal: got %d, want 4", calls)
	}
}

func TestCallbackChain(t *testing.T) {
	// A callback may deliver events from sources other than its own.
	first, next := waitset.NewGuardCondition(), waitset.NewGuardCondition()
	first.SetCallback(func(any, waitset.Kind) { next.Trigger() }, nil)

	var got []waitset.Kind
	next.SetCallback(func(_ any, k waitset.Kind) { got = append(got, k) }, nil)

	first.Trigger()
	first.Trigger()
	if len(got) != 2 {
		t.Errorf("Chained calls: got %d, want 2", len(got))
	}
	mustWait(t, []waitset.Source{next}, 0, waitset.Ready)
	if !first.TakeAndReset() || !next.TakeAndReset() {
		t.Error("Chained guards were not both triggered")
	}
}

func TestWaitPoll(t *testing.T) {
	g1 := waitset.NewGuardCondition()
	g2 := waitset.NewGuardCondition()
	srcs := []waitset.Source{g1, g2}

	mustWait(t, srcs, 0, waitset.TimedOut)
	mustWait(t, nil, 0, waitset.TimedOut)

	g2.Trigger()
	mustWait(t, srcs, 0, waitset.Ready)

	// Wait does not consume the event.
	mustWait(t, srcs, 0, waitset.Ready)
	if !g2.TakeAndReset() {
		t.Error("Guard condition was reset by Wait")
	}
	mustWait(t, srcs, 0, waitset.TimedOut)

	for i, s := range srcs {
		if s.Attached() {
			t.Errorf("Source %d is still attached after Wait", i+1)
		}
	}
}

func TestWaitBlocking(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Ready", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			g := waitset.NewGuardCondition()
			time.AfterFunc(time.Second, g.Trigger)

			start := time.Now()
			mustWait(t, []waitset.Source{g}, 10*time.Second, waitset.Ready)
			if d := time.Since(start); d != time.Second {
				t.Errorf("Wait returned after %v, want %v", d, time.Second)
			}
		})
	})

	t.Run("Forever", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			g := waitset.NewGuardCondition()
			time.AfterFunc(time.Hour, g.Trigger)
			mustWait(t, []waitset.Source{g}, waitset.Forever, waitset.Ready)
		})
	})

	t.Run("TimedOut", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			g := waitset.NewGuardCondition()

			start := time.Now()
			mustWait(t, []waitset.Source{g}, 250*time.Millisecond, waitset.TimedOut)
			if d := time.Since(start); d != 250*time.Millisecond {
				t.Errorf("Wait returned after %v, want %v", d, 250*time.Millisecond)
			}
			if g.Attached() {
				t.Error("Source is still attached after timeout")
			}
		})
	})

	t.Run("Concurrent", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			g := waitset.NewGuardCondition()
			other := waitset.NewGuardCondition()

			w := taskgroup.Go(func() error {
				_, err := waitset.Wait([]waitset.Source{g}, time.Second)
				return err
			})
			synctest.Wait()
			if !g.Attached() {
				t.Error("Source is not attached during Wait")
			}

			// A source attached to one wait cannot join another.
			_, err := waitset.Wait([]waitset.Source{other, g}, 0)
			if !errors.Is(err, waitset.ErrAttached) {
				t.Errorf("Wait: got %v, want %v", err, waitset.ErrAttached)
			}
			if other.Attached() {
				t.Error("Source was not released after a failed attach")
			}

			if err := w.Wait(); err != nil {
				t.Errorf("First Wait: %v", err)
			}
			if g.Attached() {
				t.Error("Source is still attached after Wait")
			}
		})
	})
}

func TestWaitErrors(t *testing.T) {
	g := waitset.NewGuardCondition()
	g.Trigger()

	_, err := waitset.Wait([]waitset.Source{g, g}, 0)
	if !errors.Is(err, waitset.ErrAttached) {
		t.Errorf("Wait duplicate: got %v, want %v", err, waitset.ErrAttached)
	}
	if g.Attached() {
		t.Error("Source is still attached after a failed Wait")
	}

	got := mtest.MustPanic(t, func() { waitset.Wait([]waitset.Source{g, nil}, 0) })
	t.Logf("Got expected panic: %v", got)
}

func TestStrings(t *testing.T) {
	tests := []struct {
		input interface{ String() string }
		want  string
	}{
		{waitset.Ready, "READY"},
		{waitset.TimedOut, "TIMED_OUT"},
		{waitset.KindGuard, "GUARD"},
		{waitset.KindSubscription, "SUBSCRIPTION"},
		{waitset.KindService, "SERVICE"},
		{waitset.KindClient, "CLIENT"},
		{waitset.KindEvent, "EVENT"},
		{waitset.LivelinessChanged, "LIVELINESS_CHANGED"},
		{waitset.DeadlineMissed, "DEADLINE_MISSED"},
		{waitset.Yes, "YES"},
		{waitset.Maybe, "MAYBE"},
		{waitset.Gone, "GONE"},
		{waitset.Failure, "FAILURE"},
		{waitset.PeerID{}, "unknown"},
	}
	for _, tc := range tests {
		if got := tc.input.String(); got != tc.want {
			t.Errorf("String %#v: got %q, want %q", tc.input, got, tc.want)
		}
	}
}
