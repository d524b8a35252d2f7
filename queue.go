// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"sync/atomic"

	"github.com/creachadair/mds/queue"
	"go.uber.org/zap"
)

// A PendingRequest is an inbound service request waiting to be served.
type PendingRequest struct {
	// Origin is the identity of the request sample, as written by the
	// caller. A reply carries Origin as its related identity.
	Origin SampleIdentity

	// ReplyTarget is the peer that should receive the reply. It is the
	// reply destination named by the request, if any, or else the writer of
	// the request.
	ReplyTarget PeerID

	Payload []byte     // the request data
	Info    SampleInfo // the complete transport metadata
}

// correlation is the view of a correlator used by a request queue.
type correlation interface {
	add(a, b PeerID)
	erase(p PeerID)
}

// A RequestQueue is a [Listener] that takes each inbound request from the
// transport as it arrives, and holds it in a FIFO queue until it is popped.
// The queue is ready whenever it is non-empty.
//
// Construct a RequestQueue with [NewRequestQueue].
type RequestQueue struct {
	Listener

	corr  correlation // may be nil
	limit int         // if positive, the maximum queue length
	log   *zap.Logger

	reqs  *queue.Queue[PendingRequest] // guarded by Listener.μ
	ready atomic.Bool
}

// NewRequestQueue constructs an empty request queue. If c != nil, the origin
// and reply target of each request are recorded in c as it is queued.
// Only the QueueLimit and Logger fields of opts are used.
func NewRequestQueue(c *Correlator, opts *Options) *RequestQueue {
	var corr correlation
	if c != nil {
		corr = c
	}
	return newRequestQueue(corr, opts)
}

func newRequestQueue(corr correlation, opts *Options) *RequestQueue {
	return &RequestQueue{
		Listener: Listener{kind: KindService},
		corr:     corr,
		limit:    opts.queueLimit(),
		log:      opts.logger(),
		reqs:     queue.New[PendingRequest](),
	}
}

// OnMatch implements a method of the [ReaderListener] interface. When a
// writer is unmatched, any correlation recorded for it is erased.
func (q *RequestQueue) OnMatch(peer PeerID, matched bool) {
	q.Listener.OnMatch(peer, matched)
	if !matched && q.corr != nil {
		q.corr.erase(peer)
	}
}

// OnData implements a method of the [ReaderListener] interface. It takes the
// next sample from r and queues it as a request.
//
// A sample that cannot be taken, or that carries no valid data, is ignored.
// If the queue is full the request is dropped. In either case the queue is
// not modified.
func (q *RequestQueue) OnData(r Reader) {
	rootMetrics.dataEvents.Add(1)

	s, ok := r.TakeNext()
	if !ok || !s.Info.Alive {
		return
	}
	req := PendingRequest{
		Origin:      s.Info.Identity,
		ReplyTarget: s.Info.Related.Writer,
		Payload:     s.Payload,
		Info:        s.Info,
	}
	if req.ReplyTarget.IsZero() {
		req.ReplyTarget = req.Origin.Writer
	}

	if q.full() {
		rootMetrics.reqDropped.Add(1)
		q.log.Warn("request queue full, dropping request",
			zap.Stringer("origin", req.Origin), zap.Int("limit", q.limit))
		return
	}

	// Record the correlation outside the queue lock; the correlator has its
	// own lock, and the two are never held together.
	if q.corr != nil {
		q.corr.add(req.ReplyTarget, req.Origin.Writer)
	}

	q.μ.Lock()
	q.att.cond.update(func() {
		q.reqs.Add(req)
		q.ready.Store(true)
	})
	q.μ.Unlock()

	rootMetrics.reqReceived.Add(1)
	rootMetrics.reqPending.Add(1)
	q.hook.fire(KindService)
}

func (q *RequestQueue) full() bool {
	if q.limit <= 0 {
		return false
	}
	q.μ.Lock()
	defer q.μ.Unlock()
	return q.reqs.Len() >= q.limit
}

// Pop removes and returns the request at the head of q, reporting false if q
// is empty. Pop does not block.
func (q *RequestQueue) Pop() (PendingRequest, bool) {
	q.μ.Lock()
	defer q.μ.Unlock()

	var req PendingRequest
	var ok bool
	q.att.cond.locked(func() {
		req, ok = q.reqs.Pop()
		q.ready.Store(q.reqs.Len() != 0)
	})
	if ok {
		rootMetrics.reqTaken.Add(1)
		rootMetrics.reqPending.Add(-1)
	}
	return req, ok
}

// Len reports the number of requests in q.
func (q *RequestQueue) Len() int {
	q.μ.Lock()
	defer q.μ.Unlock()
	return q.reqs.Len()
}

// IsReady reports whether q has requests queued.
func (q *RequestQueue) IsReady() bool { return q.ready.Load() }

// clear discards all queued requests.
func (q *RequestQueue) clear() {
	q.μ.Lock()
	defer q.μ.Unlock()
	q.att.cond.locked(func() {
		rootMetrics.reqPending.Add(-int64(q.reqs.Len()))
		q.reqs.Clear()
		q.ready.Store(false)
	})
}
