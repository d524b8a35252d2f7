// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
)

// A Subscription receives samples published on a topic. It is a [Source] of
// kind KindSubscription, ready whenever the transport reports unread samples.
type Subscription struct {
	Listener

	topic string
	node  *Node
	r     Reader
	once  sync.Once
}

// Subscribe creates a subscription to the named topic.
func (n *Node) Subscribe(topic string) (*Subscription, error) {
	s := &Subscription{Listener: Listener{kind: KindSubscription}, topic: topic, node: n}
	r, err := n.t.NewReader(topic, &s.Listener)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}
	s.r = r
	s.bind(r)
	if err := n.track(s); err != nil {
		r.Close()
		return nil, err
	}
	return s, nil
}

// Topic reports the topic name of s.
func (s *Subscription) Topic() string { return s.topic }

// GUID reports the identity of the transport reader for s.
func (s *Subscription) GUID() PeerID { return s.r.GUID() }

// StatusEvent returns the status event of type t for s, creating it if
// necessary. Changes reported before the first call for a type are not
// recorded.
func (s *Subscription) StatusEvent(t StatusType) *StatusEvent { return s.statusEvent(t) }

// PublisherCount reports the number of publishers currently matched with s.
func (s *Subscription) PublisherCount() int { return s.MatchedCount() }

// Take removes and returns the next sample with valid data, reporting false
// if none is available. Take does not block.
func (s *Subscription) Take() (Sample, bool) {
	defer s.refresh(s.r)
	for {
		smp, ok := s.r.TakeNext()
		if !ok {
			return Sample{}, false
		} else if smp.Info.Alive {
			return smp, true
		}
	}
}

// Close closes the subscription. Closing an already-closed subscription has
// no effect.
func (s *Subscription) Close() (err error) {
	s.once.Do(func() {
		s.node.forget(s)
		err = s.r.Close()
	})
	return
}

// A Publisher publishes samples to a topic.
type Publisher struct {
	topic string
	node  *Node
	w     Writer
	subs  matchSet
	once  sync.Once
}

// NewPublisher creates a publisher for the named topic.
func (n *Node) NewPublisher(topic string) (*Publisher, error) {
	p := &Publisher{topic: topic, node: n}
	w, err := n.t.NewWriter(topic, &p.subs)
	if err != nil {
		return nil, fmt.Errorf("publish %q: %w", topic, err)
	}
	p.w = w
	if err := n.track(p); err != nil {
		w.Close()
		return nil, err
	}
	return p, nil
}

// Topic reports the topic name of p.
func (p *Publisher) Topic() string { return p.topic }

// GUID reports the identity of the transport writer for p.
func (p *Publisher) GUID() PeerID { return p.w.GUID() }

// SubscriberCount reports the number of subscriptions currently matched with p.
func (p *Publisher) SubscriberCount() int { return p.subs.Len() }

// Publish writes payload to all matched subscriptions, and returns the
// identity of the written sample.
func (p *Publisher) Publish(payload []byte) (SampleIdentity, error) {
	id, err := p.w.Write(payload, SampleInfo{Alive: true})
	if err != nil {
		return SampleIdentity{}, fmt.Errorf("publish %q: %w", p.topic, err)
	}
	return id, nil
}

// Close closes the publisher. Closing an already-closed publisher has no
// effect.
func (p *Publisher) Close() (err error) {
	p.once.Do(func() {
		p.node.forget(p)
		err = p.w.Close()
	})
	return
}

// matchSet is a WriterListener that tracks the set of matched readers.
type matchSet struct {
	μ     sync.Mutex
	peers mapset.Set[PeerID]
}

// OnMatch implements the [WriterListener] interface.
func (m *matchSet) OnMatch(peer PeerID, matched bool) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if matched {
		if m.peers == nil {
			m.peers = mapset.New[PeerID]()
		}
		m.peers.Add(peer)
	} else {
		m.peers.Remove(peer)
	}
}

// Len reports the number of matched readers.
func (m *matchSet) Len() int {
	m.μ.Lock()
	defer m.μ.Unlock()
	return m.peers.Len()
}
