// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
	"go.uber.org/zap"
)

// A Client is the caller side of a request/reply exchange. It is a [Source]
// of kind KindClient, ready whenever the transport reports unread replies.
type Client struct {
	Listener

	name string
	node *Node
	log  *zap.Logger
	reqw Writer // writes requests
	rspr Reader // reads replies

	wmatch matchSet // services matched with reqw

	cμ          sync.Mutex
	nextSeq     int64
	outstanding mapset.Set[int64]
	once        sync.Once
}

// A Response is a reply received by a client.
type Response struct {
	Seq     int64      // the sequence number of the request
	Payload []byte     // the reply data
	Info    SampleInfo // the complete transport metadata
}

// NewClient creates a client for the named service.
func (n *Node) NewClient(service string) (*Client, error) {
	c := &Client{
		Listener:    Listener{kind: KindClient},
		name:        service,
		node:        n,
		log:         n.log.With(zap.String("client", service)),
		outstanding: mapset.New[int64](),
	}

	// Create the reply reader first, so that its identity is available to
	// name as the reply destination of the first request.
	var err error
	c.rspr, err = n.t.NewReader(ReplyTopic(service), &c.Listener)
	if err == nil {
		c.bind(c.rspr)
		c.reqw, err = n.t.NewWriter(RequestTopic(service), &c.wmatch)
	}
	if err == nil {
		err = n.track(c)
	}
	if err != nil {
		closeAll(c.rspr, c.reqw)
		return nil, fmt.Errorf("client %q: %w", service, err)
	}
	return c, nil
}

// Name reports the name of the service c calls.
func (c *Client) Name() string { return c.name }

// ServiceReady reports whether a service is matched with both the request
// writer and the reply reader of c.
func (c *Client) ServiceReady() bool { return c.wmatch.Len() > 0 && c.MatchedCount() > 0 }

// SendRequest sends payload as a request to the service, and returns the
// sequence number assigned to it. A reply to the request carries the same
// sequence number.
func (c *Client) SendRequest(payload []byte) (int64, error) {
	c.cμ.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.outstanding.Add(seq)
	c.cμ.Unlock()

	_, err := c.reqw.Write(payload, SampleInfo{
		Identity: SampleIdentity{Seq: seq},
		Related:  SampleIdentity{Writer: c.rspr.GUID()},
		Alive:    true,
	})
	if err != nil {
		c.cμ.Lock()
		c.outstanding.Remove(seq)
		c.cμ.Unlock()
		return 0, fmt.Errorf("request to %q: %w", c.name, err)
	}
	return seq, nil
}

// Outstanding reports the number of requests sent by c that have not yet
// received a reply.
func (c *Client) Outstanding() int {
	c.cμ.Lock()
	defer c.cμ.Unlock()
	return c.outstanding.Len()
}

// TakeResponse removes and returns the next reply to a request sent by c,
// reporting false if none is available. Replies addressed to other clients,
// and duplicate replies, are discarded. TakeResponse does not block.
func (c *Client) TakeResponse() (Response, bool) {
	defer c.refresh(c.rspr)
	self := c.reqw.GUID()
	for {
		s, ok := c.rspr.TakeNext()
		if !ok {
			return Response{}, false
		} else if !s.Info.Alive {
			continue
		}
		rel := s.Info.Related
		if rel.Writer != self || !c.settle(rel.Seq) {
			rootMetrics.replyDiscarded.Add(1)
			c.log.Debug("discarding reply", zap.Stringer("related", rel))
			continue
		}
		return Response{Seq: rel.Seq, Payload: s.Payload, Info: s.Info}, true
	}
}

// settle removes seq from the outstanding set, reporting whether it was there.
func (c *Client) settle(seq int64) bool {
	c.cμ.Lock()
	defer c.cμ.Unlock()
	if !c.outstanding.Has(seq) {
		return false
	}
	c.outstanding.Remove(seq)
	return true
}

// Close closes the client. Closing an already-closed client has no effect.
func (c *Client) Close() (err error) {
	c.once.Do(func() {
		c.node.forget(c)
		err = closeAll(c.rspr, c.reqw)
	})
	return
}
