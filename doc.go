// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package waitset implements event notification and request correlation for
// a middleware adapter sitting above a publish/subscribe transport.
//
// The transport delivers data and peer-match events to the engine on its own
// dispatcher goroutines. Client goroutines block in [Wait] until one of a set
// of sources becomes ready, then drain the sources that are. Service replies
// are routed back to the caller that issued the request, even when the
// transport reports the reply destination late or out of order.
//
// # Sources
//
// A [Source] is anything that can be passed to [Wait]. The package defines a
// closed set of sources, distinguished by their [Kind]:
//
//   - [GuardCondition]: a flag triggered manually by the program.
//   - [Subscription]: a topic reader, ready when the transport reports unread data.
//   - [Service]: a server endpoint, ready when requests are queued.
//   - [Client]: a client endpoint, ready when replies are available.
//   - [StatusEvent]: a reader status, ready when the status has changed.
//
// To wait for any of several sources:
//
//	st, err := waitset.Wait([]waitset.Source{gc, sub, svc}, time.Second)
//	if err != nil {
//	   log.Fatalf("Wait: %v", err)
//	} else if st == waitset.TimedOut {
//	   return // nothing happened
//	}
//	if gc.TakeAndReset() {
//	   // ...
//	}
//	for {
//	   req, ok := svc.TakeRequest()
//	   if !ok {
//	      break
//	   }
//	   // ...
//	}
//
// Wait only reports that some source may be ready; the caller must check
// each source after it returns. A source can be attached to only one Wait
// call at a time, and Wait always detaches every source before returning.
//
// # Callbacks
//
// Each source also supports a push callback, set with its SetCallback method.
// Events that arrive before a callback is set are counted, and when a
// callback is installed it is invoked once for each of them before any new
// event is delivered.
//
// # Nodes
//
// A [Node] creates endpoints on a [Transport] and owns their shared state.
// Closing a node closes every endpoint it created. The bus package provides
// an in-memory transport suitable for testing.
//
//	n := waitset.NewNode(bus.New(nil), nil)
//	defer n.Close()
//
//	svc, err := n.NewService("add_two_ints")
//	// ...
//	cli, err := n.NewClient("add_two_ints")
//	// ...
//
// # Replies
//
// When a service replies to a request, it first checks whether the reply
// destination is present, using [Correlator.CheckPresence]. If the caller has
// gone away the reply is discarded with [ErrPeerGone]. If the destination has
// not been matched yet, [Service.SendResponse] reports [ErrNotReady] and the
// caller may retry.
//
// # Metrics
//
// The package maintains a collection of metrics shared by all nodes. Use the
// [Metrics] function to obtain an [expvar.Map] containing them:
//
//   - waits: counter of calls to Wait
//   - waits_ready: counter of waits that reported Ready
//   - waits_timed_out: counter of waits that reported TimedOut
//   - guard_triggers: counter of guard condition triggers
//   - data_events: counter of data events delivered by the transport
//   - callbacks: counter of push callback invocations
//   - requests_received: counter of requests queued by services
//   - requests_dropped: counter of requests discarded before queueing
//   - requests_taken: counter of requests removed from service queues
//   - requests_pending: gauge of requests currently queued
//   - replies_sent: counter of replies written by services
//   - replies_discarded: counter of replies discarded by clients
//   - presence_yes, presence_maybe, presence_gone, presence_failure:
//     counters of presence check results
//   - status_events: counter of status changes delivered to status events
package waitset
