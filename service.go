// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// A Service is the server side of a request/reply exchange. It is a [Source]
// of kind KindService, ready whenever requests are queued.
//
// A service reads requests from its request topic into a [RequestQueue], and
// writes replies to its reply topic. Its [Correlator] tracks which callers
// are still present, so that replies to callers that have gone away are not
// sent.
type Service struct {
	name string
	node *Node
	h    handle
	q    *RequestQueue
	corr *Correlator
	log  *zap.Logger

	r      Reader
	w      Writer
	once   sync.Once
	closed atomic.Bool
}

// NewService creates a service with the given name.
func (n *Node) NewService(name string) (*Service, error) {
	corr := NewCorrelator(n.opts)
	h, err := n.register(corr)
	if err != nil {
		return nil, err
	}
	s := &Service{
		name: name,
		node: n,
		h:    h,
		q:    newRequestQueue(corrRef{n: n, h: h}, n.opts),
		corr: corr,
		log:  n.log.With(zap.String("service", name)),
	}

	// Create the reply writer before the request reader, so that no request
	// can be queued before its reply destination can be matched.
	s.w, err = n.t.NewWriter(ReplyTopic(name), corr)
	if err == nil {
		s.r, err = n.t.NewReader(RequestTopic(name), s.q)
	}
	if err == nil {
		err = n.track(s)
	}
	if err != nil {
		closeAll(s.r, s.w)
		n.unregister(h)
		corr.Close()
		return nil, fmt.Errorf("service %q: %w", name, err)
	}
	return s, nil
}

// Name reports the name of the service.
func (s *Service) Name() string { return s.name }

// Correlator returns the correlator for s.
func (s *Service) Correlator() *Correlator { return s.corr }

// Queue returns the request queue for s.
func (s *Service) Queue() *RequestQueue { return s.q }

// Kind implements a method of the [Source] interface.
func (s *Service) Kind() Kind { return KindService }

// IsReady reports whether s has requests queued.
func (s *Service) IsReady() bool { return s.q.IsReady() }

// Attached implements a method of the [Source] interface.
func (s *Service) Attached() bool { return s.q.Attached() }

func (s *Service) attach(c *condition) error { return s.q.attach(c) }
func (s *Service) detach()                   { s.q.detach() }

// SetCallback sets the push callback for s. If cb != nil, it is first called
// once for each request that arrived since the last callback was removed.
// If cb == nil, the current callback is removed.
func (s *Service) SetCallback(cb Callback, ctx any) { s.q.SetCallback(cb, ctx) }

// TakeRequest removes and returns the oldest queued request, reporting false
// if none is queued. TakeRequest does not block.
func (s *Service) TakeRequest() (PendingRequest, bool) { return s.q.Pop() }

// SendResponse sends payload as the reply to req.
//
// Before sending, it checks the presence of the reply destination (see
// [Correlator.CheckPresence]). If the caller has gone away, SendResponse
// reports an error wrapping ErrPeerGone and the reply is not sent. If the
// destination is not yet matched, it reports an error wrapping ErrNotReady,
// and the caller may retry. If the check fails, it reports ErrFailure.
// If s is closed, it reports ErrClosed.
func (s *Service) SendResponse(req PendingRequest, payload []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("reply to %v: %w", req.Origin, ErrClosed)
	}
	switch p := s.corr.CheckPresence(req.ReplyTarget); p {
	case Yes:
		// OK, send it
	case Gone:
		s.log.Debug("discarding reply", zap.Stringer("request", req.Origin))
		return fmt.Errorf("reply to %v: %w", req.Origin, ErrPeerGone)
	case Maybe:
		return fmt.Errorf("reply to %v: %w", req.Origin, ErrNotReady)
	default:
		if s.closed.Load() {
			return fmt.Errorf("reply to %v: %w", req.Origin, ErrClosed)
		}
		return fmt.Errorf("reply to %v: %w", req.Origin, ErrFailure)
	}

	if _, err := s.w.Write(payload, SampleInfo{Related: req.Origin, Alive: true}); err != nil {
		return fmt.Errorf("reply to %v: %w", req.Origin, err)
	}
	rootMetrics.replySent.Add(1)
	return nil
}

// Close closes the service and discards any queued requests. Closing an
// already-closed service has no effect.
func (s *Service) Close() (err error) {
	s.once.Do(func() {
		s.closed.Store(true)
		s.node.forget(s)
		err = closeAll(s.r, s.w)

		// Unregister before closing, so that a request delivered late by the
		// transport is not recorded in a closed correlator.
		s.node.unregister(s.h)
		s.corr.Close()
		s.q.clear()
		s.log.Debug("service closed", zap.Error(err))
	})
	return
}
