// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
	"go.uber.org/zap"
)

// Presence is the result of checking whether a reply destination is present.
type Presence int

const (
	Failure Presence = iota // the check could not be performed
	Maybe                   // the destination exists but was not matched in time
	Yes                     // the destination is matched
	Gone                    // the destination has gone away
)

func (p Presence) String() string {
	switch p {
	case Failure:
		return "FAILURE"
	case Maybe:
		return "MAYBE"
	case Yes:
		return "YES"
	case Gone:
		return "GONE"
	default:
		return fmt.Sprintf("presence %d", int(p))
	}
}

// A Correlator tracks the reply destinations matched with a service's reply
// writer, together with a symmetric mapping between the two endpoints of each
// caller: the writer that sent a request, and the reader that expects its
// reply. Correlator implements the [WriterListener] interface.
//
// Entries of the mapping are always added and removed in pairs, so that
// whenever Lookup(a) reports b, Lookup(b) reports a.
type Correlator struct {
	timeout time.Duration
	log     *zap.Logger

	μ       sync.Mutex
	matched mapset.Set[PeerID]
	pairs   map[PeerID]PeerID
	changed chan struct{} // closed when matched changes; nil if nobody is waiting
	closed  bool
}

// NewCorrelator constructs an empty correlator. Only the PresenceTimeout and
// Logger fields of opts are used.
func NewCorrelator(opts *Options) *Correlator {
	return &Correlator{
		timeout: opts.presenceTimeout(),
		log:     opts.logger(),
		matched: mapset.New[PeerID](),
		pairs:   make(map[PeerID]PeerID),
	}
}

// OnMatch implements the [WriterListener] interface.
func (c *Correlator) OnMatch(peer PeerID, matched bool) {
	if matched {
		c.OnPeerMatched(peer)
	} else {
		c.OnPeerUnmatched(peer)
	}
}

// OnPeerMatched records that peer is matched, and wakes any presence check
// waiting for it.
func (c *Correlator) OnPeerMatched(peer PeerID) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.matched.Add(peer)
	c.broadcastLocked()
}

// OnPeerUnmatched records that peer is no longer matched, and erases the
// correlation pair containing peer, if there is one.
func (c *Correlator) OnPeerUnmatched(peer PeerID) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.matched.Remove(peer)
	c.eraseLocked(peer)
	c.broadcastLocked()
}

// Add records a and b as the two endpoints of one caller. Any existing pairs
// containing a or b are removed first.
func (c *Correlator) Add(a, b PeerID) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.closed {
		return
	}
	if old, ok := c.pairs[a]; ok && old == b {
		return // already paired
	}
	c.eraseLocked(a)
	c.eraseLocked(b)
	c.pairs[a] = b
	c.pairs[b] = a
}

// Erase removes the pair containing p, if there is one.
func (c *Correlator) Erase(p PeerID) {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.eraseLocked(p)
}

func (c *Correlator) add(a, b PeerID) { c.Add(a, b) }
func (c *Correlator) erase(p PeerID)  { c.Erase(p) }

func (c *Correlator) eraseLocked(p PeerID) {
	if q, ok := c.pairs[p]; ok {
		delete(c.pairs, q)
		delete(c.pairs, p)
	}
}

// Lookup reports the peer paired with p, if any.
func (c *Correlator) Lookup(p PeerID) (PeerID, bool) {
	c.μ.Lock()
	defer c.μ.Unlock()
	q, ok := c.pairs[p]
	return q, ok
}

// IsMatched reports whether peer is currently matched.
func (c *Correlator) IsMatched(peer PeerID) bool {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.matched.Has(peer)
}

// Len reports the number of pairs recorded.
func (c *Correlator) Len() int {
	c.μ.Lock()
	defer c.μ.Unlock()
	n := len(c.pairs)
	for p, q := range c.pairs {
		if p == q {
			n++ // a self-pair has only one entry
		}
	}
	return n / 2
}

// CheckPresence reports whether the reply destination peer is present.
//
// If no pair containing peer is recorded, the caller that sent the request
// has gone away, and CheckPresence reports Gone. Otherwise it waits up to the
// presence timeout for peer to be matched, and reports Yes if it was, or
// Maybe if it was not. A caller may retry after Maybe.
//
// CheckPresence reports Failure if peer is zero or c is closed.
func (c *Correlator) CheckPresence(peer PeerID) (p Presence) {
	defer func() { rootMetrics.presence[p].Add(1) }()

	c.μ.Lock()
	if c.closed || peer.IsZero() {
		c.μ.Unlock()
		return Failure
	} else if _, ok := c.pairs[peer]; !ok {
		c.μ.Unlock()
		c.log.Debug("reply destination gone", zap.Stringer("peer", peer))
		return Gone
	}
	c.μ.Unlock()

	if c.waitMatched(peer, c.timeout) {
		return Yes
	}
	c.log.Debug("reply destination not matched",
		zap.Stringer("peer", peer), zap.Duration("timeout", c.timeout))
	return Maybe
}

// waitMatched blocks until peer is matched or d elapses, and reports whether
// peer was matched.
func (c *Correlator) waitMatched(peer PeerID, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		c.μ.Lock()
		if c.matched.Has(peer) {
			c.μ.Unlock()
			return true
		} else if c.closed {
			c.μ.Unlock()
			return false
		}
		if c.changed == nil {
			c.changed = make(chan struct{})
		}
		ch := c.changed
		c.μ.Unlock()

		select {
		case <-ch:
			// Recheck.
		case <-t.C:
			return c.IsMatched(peer)
		}
	}
}

func (c *Correlator) broadcastLocked() {
	if c.changed != nil {
		close(c.changed)
		c.changed = nil
	}
}

// Close discards all state in c and releases any pending presence checks.
// After c is closed, presence checks report Failure.
func (c *Correlator) Close() {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.closed = true
	clear(c.matched)
	clear(c.pairs)
	c.broadcastLocked()
}
