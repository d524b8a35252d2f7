// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// A Node creates endpoints on a transport, and owns the state they share.
// Closing a node closes all the endpoints it created.
//
// A service's request queue does not hold a pointer to the service's
// correlator. Instead, the node keeps each correlator in a registry indexed
// by handle, and the queue resolves its handle on each use. Once a service is
// closed its handle no longer resolves, so a request delivered late by the
// transport cannot reach a correlator that has been torn down.
type Node struct {
	t    Transport
	opts *Options
	log  *zap.Logger

	μ      sync.Mutex
	corr   map[handle]*Correlator
	nexth  handle
	eps    map[io.Closer]struct{} // live endpoints
	closed bool
}

// handle is the index of a correlator in the registry of a node.
type handle uint64

// NewNode constructs a node that creates endpoints on t. A nil opts provides
// default settings.
func NewNode(t Transport, opts *Options) *Node {
	if t == nil {
		panic("nil transport")
	}
	return &Node{
		t:    t,
		opts: opts,
		log:  opts.logger(),
		corr: make(map[handle]*Correlator),
		eps:  make(map[io.Closer]struct{}),
	}
}

// NewGuardCondition constructs a new guard condition. Guard conditions do not
// use the transport, and are not closed with the node.
func (n *Node) NewGuardCondition() *GuardCondition { return NewGuardCondition() }

// register adds c to the registry and returns its handle.
func (n *Node) register(c *Correlator) (handle, error) {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.closed {
		return 0, ErrClosed
	}
	n.nexth++
	n.corr[n.nexth] = c
	return n.nexth, nil
}

// unregister removes the correlator for h from the registry.
func (n *Node) unregister(h handle) {
	n.μ.Lock()
	defer n.μ.Unlock()
	delete(n.corr, h)
}

// correlator resolves h, reporting nil if it has been unregistered.
func (n *Node) correlator(h handle) *Correlator {
	n.μ.Lock()
	defer n.μ.Unlock()
	return n.corr[h]
}

// track records a live endpoint, reporting ErrClosed if n is closed.
func (n *Node) track(ep io.Closer) error {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.eps[ep] = struct{}{}
	return nil
}

func (n *Node) forget(ep io.Closer) {
	n.μ.Lock()
	defer n.μ.Unlock()
	delete(n.eps, ep)
}

// Close closes all the endpoints created by n. Closing an already-closed
// node has no effect.
func (n *Node) Close() error {
	n.μ.Lock()
	if n.closed {
		n.μ.Unlock()
		return nil
	}
	n.closed = true
	eps := make([]io.Closer, 0, len(n.eps))
	for ep := range n.eps {
		eps = append(eps, ep)
	}
	n.μ.Unlock()

	// Endpoints remove themselves from the node when closed, so the lock
	// must not be held here.
	var err error
	for _, ep := range eps {
		err = multierr.Append(err, ep.Close())
	}
	n.log.Debug("node closed", zap.Int("endpoints", len(eps)), zap.Error(err))
	return err
}

// corrRef is a reference to a correlator by its handle in a node.
type corrRef struct {
	n *Node
	h handle
}

func (r corrRef) add(a, b PeerID) {
	if c := r.n.correlator(r.h); c != nil {
		c.Add(a, b)
	}
}

func (r corrRef) erase(p PeerID) {
	if c := r.n.correlator(r.h); c != nil {
		c.Erase(p)
	}
}

// RequestTopic returns the topic name used for requests to the named service.
func RequestTopic(service string) string { return fmt.Sprintf("rq/%sRequest", service) }

// ReplyTopic returns the topic name used for replies from the named service.
func ReplyTopic(service string) string { return fmt.Sprintf("rr/%sReply", service) }

// closeAll closes the given transport endpoints, skipping nil values.
func closeAll(cs ...io.Closer) error {
	var err error
	for _, c := range cs {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
