// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset_test

import (
	"errors"
	"expvar"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/waitset"
	"github.com/creachadair/waitset/bus"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func metric(name string) int64 { return waitset.Metrics().Get(name).(*expvar.Int).Value() }

// nopListener is a reader and writer listener that ignores all events.
type nopListener struct{}

func (nopListener) OnMatch(waitset.PeerID, bool) {}
func (nopListener) OnData(waitset.Reader)        {}

func TestPubSub(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		sub, err := n.Subscribe("chatter")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		pub, err := n.NewPublisher("chatter")
		if err != nil {
			t.Fatalf("NewPublisher: %v", err)
		}
		synctest.Wait()

		if got := sub.PublisherCount(); got != 1 {
			t.Errorf("PublisherCount: got %d, want 1", got)
		}
		if got := pub.SubscriberCount(); got != 1 {
			t.Errorf("SubscriberCount: got %d, want 1", got)
		}
		mustWait(t, []waitset.Source{sub}, 0, waitset.TimedOut)

		for _, s := range []string{"hello", "world"} {
			if _, err := pub.Publish([]byte(s)); err != nil {
				t.Fatalf("Publish %q: %v", s, err)
			}
		}
		mustWait(t, []waitset.Source{sub}, time.Second, waitset.Ready)
		synctest.Wait()
		if got := sub.UnreadCount(); got != 2 {
			t.Errorf("UnreadCount: got %d, want 2", got)
		}

		var calls int
		sub.SetCallback(func(_ any, k waitset.Kind) { calls++ }, nil)
		if calls != 2 {
			t.Errorf("Catch-up calls: got %d, want 2", calls)
		}

		var got []string
		for {
			s, ok := sub.Take()
			if !ok {
				break
			}
			got = append(got, string(s.Payload))
		}
		if diff := cmp.Diff([]string{"hello", "world"}, got); diff != "" {
			t.Errorf("Samples (-want, +got):\n%s", diff)
		}
		if sub.IsReady() {
			t.Error("Subscription is ready after all samples were taken")
		}

		if err := pub.Close(); err != nil {
			t.Errorf("Publisher close: %v", err)
		}
		synctest.Wait()
		if got := sub.PublisherCount(); got != 0 {
			t.Errorf("PublisherCount after close: got %d, want 0", got)
		}
		if _, err := pub.Publish(nil); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("Publish after close: got %v, want %v", err, waitset.ErrClosed)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		svc, err := n.NewService("add_two_ints")
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		cli, err := n.NewClient("add_two_ints")
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		other, err := n.NewClient("add_two_ints")
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		synctest.Wait()
		if !cli.ServiceReady() {
			t.Fatal("Client is not matched with the service")
		}

		seq, err := cli.SendRequest([]byte("2+3"))
		if err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		mustWait(t, []waitset.Source{svc}, time.Second, waitset.Ready)

		req, ok := svc.TakeRequest()
		if !ok {
			t.Fatal("TakeRequest: no request")
		}
		if req.Origin.Seq != seq || string(req.Payload) != "2+3" {
			t.Errorf("Request: got seq %d %q, want %d %q", req.Origin.Seq, req.Payload, seq, "2+3")
		}
		if got, ok := svc.Correlator().Lookup(req.ReplyTarget); !ok || got != req.Origin.Writer {
			t.Errorf("Lookup(%v): got %v, %v; want %v", req.ReplyTarget, got, ok, req.Origin.Writer)
		}

		discarded := metric("replies_discarded")
		if err := svc.SendResponse(req, []byte("5")); err != nil {
			t.Fatalf("SendResponse: %v", err)
		}
		mustWait(t, []waitset.Source{cli}, time.Second, waitset.Ready)

		rsp, ok := cli.TakeResponse()
		if !ok {
			t.Fatal("TakeResponse: no reply")
		}
		if rsp.Seq != seq || string(rsp.Payload) != "5" {
			t.Errorf("Response: got seq %d %q, want %d %q", rsp.Seq, rsp.Payload, seq, "5")
		}
		if n := cli.Outstanding(); n != 0 {
			t.Errorf("Outstanding: got %d, want 0", n)
		}

		// The other client sees the reply but does not accept it.
		synctest.Wait()
		if rsp, ok := other.TakeResponse(); ok {
			t.Errorf("Other client accepted reply %+v", rsp)
		}

		// A duplicate reply is discarded.
		if err := svc.SendResponse(req, []byte("5")); err != nil {
			t.Fatalf("SendResponse again: %v", err)
		}
		synctest.Wait()
		if rsp, ok := cli.TakeResponse(); ok {
			t.Errorf("Client accepted duplicate reply %+v", rsp)
		}
		if rsp, ok := other.TakeResponse(); ok {
			t.Errorf("Other client accepted duplicate reply %+v", rsp)
		}
		if d := metric("replies_discarded") - discarded; d != 3 {
			t.Errorf("Replies discarded: got %d, want 3", d)
		}
		if other.IsReady() || cli.IsReady() {
			t.Error("Clients are ready after all replies were taken")
		}
	})
}

func TestLiveliness(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		b := bus.New(&bus.Options{MatchDelay: 10 * time.Millisecond})
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		sub, err := n.Subscribe("chatter")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		live := sub.StatusEvent(waitset.LivelinessChanged)
		if live.Kind() != waitset.KindEvent {
			t.Errorf("Kind: got %v, want %v", live.Kind(), waitset.KindEvent)
		}
		if sub.StatusEvent(waitset.LivelinessChanged) != live {
			t.Error("StatusEvent returned a different event for the same type")
		}
		missed := sub.StatusEvent(waitset.DeadlineMissed)
		srcs := []waitset.Source{live, missed}
		mustWait(t, srcs, 0, waitset.TimedOut)

		statusEvents := metric("status_events")
		pub, err := n.NewPublisher("chatter")
		if err != nil {
			t.Fatalf("NewPublisher: %v", err)
		}
		mustWait(t, srcs, time.Second, waitset.Ready)
		synctest.Wait()

		got, ok := live.Take()
		if !ok {
			t.Fatal("Take: no change after match")
		}
		want := waitset.StatusChange{
			Type:        waitset.LivelinessChanged,
			Peer:        pub.GUID(),
			Count:       1,
			CountChange: 1,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Match change (-want, +got):\n%s", diff)
		}
		if missed.IsReady() {
			t.Error("Deadline event is ready without a missed deadline")
		}

		var calls int
		live.SetCallback(func(_ any, k waitset.Kind) {
			if k != waitset.KindEvent {
				t.Errorf("Callback kind: got %v, want %v", k, waitset.KindEvent)
			}
			calls++
		}, nil)
		if calls != 1 {
			t.Errorf("Catch-up calls: got %d, want 1", calls)
		}

		if err := pub.Close(); err != nil {
			t.Fatalf("Publisher close: %v", err)
		}
		mustWait(t, srcs, time.Second, waitset.Ready)
		synctest.Wait()
		if calls != 2 {
			t.Errorf("Callback calls after close: got %d, want 2", calls)
		}

		got, ok = live.Take()
		if !ok {
			t.Fatal("Take: no change after close")
		}
		want.Count, want.CountChange = 0, -1
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Close change (-want, +got):\n%s", diff)
		}
		if c, ok := live.Take(); ok {
			t.Errorf("Take again: got %+v, want none", c)
		}
		mustWait(t, srcs, 0, waitset.TimedOut)
		if d := metric("status_events") - statusEvents; d != 2 {
			t.Errorf("Status events: got %d, want 2", d)
		}
	})
}

func TestPresence(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		const delay = 200 * time.Millisecond
		b := bus.New(&bus.Options{MatchDelay: delay})
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		svc, err := n.NewService("lookup")
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		w, err := b.NewWriter(waitset.RequestTopic("lookup"), nopListener{})
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		time.Sleep(delay)
		synctest.Wait()

		// The request names a reply reader that has not been matched yet.
		r, err := b.NewReader(waitset.ReplyTopic("lookup"), nopListener{})
		if err != nil {
			t.Fatalf("NewReader: %v", err)
		}
		if _, err := w.Write([]byte("q"), waitset.SampleInfo{
			Related: waitset.SampleIdentity{Writer: r.GUID()},
			Alive:   true,
		}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		mustWait(t, []waitset.Source{svc}, time.Second, waitset.Ready)

		req, ok := svc.TakeRequest()
		if !ok {
			t.Fatal("TakeRequest: no request")
		}
		if req.ReplyTarget != r.GUID() {
			t.Errorf("ReplyTarget: got %v, want %v", req.ReplyTarget, r.GUID())
		}

		start := time.Now()
		if err := svc.SendResponse(req, []byte("a")); !errors.Is(err, waitset.ErrNotReady) {
			t.Errorf("SendResponse before match: got %v, want %v", err, waitset.ErrNotReady)
		}
		if d := time.Since(start); d != waitset.DefaultPresenceTimeout {
			t.Errorf("SendResponse took %v, want %v", d, waitset.DefaultPresenceTimeout)
		}

		time.Sleep(delay)
		synctest.Wait()
		if err := svc.SendResponse(req, []byte("a")); err != nil {
			t.Errorf("SendResponse after match: %v", err)
		}
		synctest.Wait()
		s, ok := r.TakeNext()
		if !ok {
			t.Fatal("TakeNext: no reply")
		}
		if s.Info.Related != req.Origin || string(s.Payload) != "a" {
			t.Errorf("Reply: got %v, want related %v", s, req.Origin)
		}

		// Once the reply reader goes away, the caller is gone.
		if err := r.Close(); err != nil {
			t.Errorf("Reader close: %v", err)
		}
		synctest.Wait()
		if err := svc.SendResponse(req, []byte("b")); !errors.Is(err, waitset.ErrPeerGone) {
			t.Errorf("SendResponse after close: got %v, want %v", err, waitset.ErrPeerGone)
		}
		if _, ok := svc.Correlator().Lookup(w.GUID()); ok {
			t.Error("Correlation for the caller survived the close of its reply reader")
		}
		w.Close()
	})
}

func TestCallerGone(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		svc, _ := n.NewService("echo")
		cli, _ := n.NewClient("echo")
		synctest.Wait()

		if _, err := cli.SendRequest([]byte("ping")); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		mustWait(t, []waitset.Source{svc}, time.Second, waitset.Ready)
		req, ok := svc.TakeRequest()
		if !ok {
			t.Fatal("TakeRequest: no request")
		}

		if err := cli.Close(); err != nil {
			t.Errorf("Client close: %v", err)
		}
		synctest.Wait()
		if n := svc.Correlator().Len(); n != 0 {
			t.Errorf("Correlator Len: got %d, want 0", n)
		}
		if err := svc.SendResponse(req, []byte("pong")); !errors.Is(err, waitset.ErrPeerGone) {
			t.Errorf("SendResponse: got %v, want %v", err, waitset.ErrPeerGone)
		}
	})
}

func TestServiceClosed(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		svc, _ := n.NewService("echo")
		cli, _ := n.NewClient("echo")
		synctest.Wait()

		if _, err := cli.SendRequest([]byte("x")); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		mustWait(t, []waitset.Source{svc}, time.Second, waitset.Ready)
		req, ok := svc.TakeRequest()
		if !ok {
			t.Fatal("TakeRequest: no request")
		}

		if err := svc.Close(); err != nil {
			t.Fatalf("Service close: %v", err)
		}
		if err := svc.SendResponse(req, []byte("x")); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("SendResponse after close: got %v, want %v", err, waitset.ErrClosed)
		}
	})
}

func TestServiceCallback(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)
		defer n.Close()

		svc, _ := n.NewService("echo")
		cli, _ := n.NewClient("echo")
		synctest.Wait()

		for range 3 {
			if _, err := cli.SendRequest(nil); err != nil {
				t.Fatalf("SendRequest: %v", err)
			}
		}
		synctest.Wait()

		var calls []waitset.Kind
		svc.SetCallback(func(ctx any, k waitset.Kind) {
			if ctx != svc {
				t.Errorf("Callback context: got %v, want %v", ctx, svc)
			}
			calls = append(calls, k)
		}, svc)
		want := []waitset.Kind{waitset.KindService, waitset.KindService, waitset.KindService}
		if diff := cmp.Diff(want, calls); diff != "" {
			t.Errorf("Callbacks (-want, +got):\n%s", diff)
		}
		if n := svc.Queue().Len(); n != 3 {
			t.Errorf("Queue length: got %d, want 3", n)
		}
	})
}

func TestNodeClose(t *testing.T) {
	defer leaktest.Check(t)()

	synctest.Test(t, func(t *testing.T) {
		b := bus.New(nil)
		defer b.Close()
		n := waitset.NewNode(b, nil)

		sub, _ := n.Subscribe("chatter")
		pub, _ := n.NewPublisher("chatter")
		svc, _ := n.NewService("echo")
		cli, _ := n.NewClient("echo")
		synctest.Wait()

		if _, err := cli.SendRequest([]byte("x")); err != nil {
			t.Fatalf("SendRequest: %v", err)
		}
		synctest.Wait()

		pending := metric("requests_pending")
		if err := n.Close(); err != nil {
			t.Errorf("Node close: %v", err)
		}
		if err := n.Close(); err != nil {
			t.Errorf("Node close again: %v", err)
		}
		if svc.IsReady() {
			t.Error("Service is ready after close")
		}
		if d := pending - metric("requests_pending"); d != 1 {
			t.Errorf("Pending requests released: got %d, want 1", d)
		}
		if _, err := pub.Publish(nil); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("Publish: got %v, want %v", err, waitset.ErrClosed)
		}
		if _, err := cli.SendRequest(nil); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("SendRequest: got %v, want %v", err, waitset.ErrClosed)
		}
		if err := sub.Close(); err != nil {
			t.Errorf("Subscription close after node close: %v", err)
		}
		if _, err := n.NewService("echo"); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("NewService after close: got %v, want %v", err, waitset.ErrClosed)
		}
		if _, err := n.Subscribe("chatter"); !errors.Is(err, waitset.ErrClosed) {
			t.Errorf("Subscribe after close: got %v, want %v", err, waitset.ErrClosed)
		}
	})
}
