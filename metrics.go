// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import "expvar"

// engineMetrics record engine activity counters.
type engineMetrics struct {
	waits         expvar.Int
	waitsReady    expvar.Int
	waitsTimedOut expvar.Int
	guardTriggers expvar.Int
	dataEvents    expvar.Int // data events delivered by the transport
	callbacks     expvar.Int // push callback invocations, including catch-up

	reqReceived expvar.Int // requests queued
	reqDropped  expvar.Int // requests discarded before queueing
	reqTaken    expvar.Int // requests removed from the queue
	reqPending  expvar.Int // gauge

	replySent      expvar.Int
	replyDiscarded expvar.Int // replies for unknown or other callers

	presence [4]expvar.Int // indexed by Presence

	statusEvents expvar.Int // status changes delivered to status events

	emap *expvar.Map
}

var rootMetrics = newEngineMetrics()

func newEngineMetrics() *engineMetrics {
	em := &engineMetrics{emap: new(expvar.Map)}
	em.emap.Set("waits", &em.waits)
	em.emap.Set("waits_ready", &em.waitsReady)
	em.emap.Set("waits_timed_out", &em.waitsTimedOut)
	em.emap.Set("guard_triggers", &em.guardTriggers)
	em.emap.Set("data_events", &em.dataEvents)
	em.emap.Set("callbacks", &em.callbacks)
	em.emap.Set("requests_received", &em.reqReceived)
	em.emap.Set("requests_dropped", &em.reqDropped)
	em.emap.Set("requests_taken", &em.reqTaken)
	em.emap.Set("requests_pending", &em.reqPending)
	em.emap.Set("replies_sent", &em.replySent)
	em.emap.Set("replies_discarded", &em.replyDiscarded)
	em.emap.Set("presence_failure", &em.presence[Failure])
	em.emap.Set("presence_maybe", &em.presence[Maybe])
	em.emap.Set("presence_yes", &em.presence[Yes])
	em.emap.Set("presence_gone", &em.presence[Gone])
	em.emap.Set("status_events", &em.statusEvents)
	return em
}

// Metrics returns the metrics map for the engine. It is safe for the caller
// to add additional metrics to the map.
func Metrics() *expvar.Map { return rootMetrics.emap }
