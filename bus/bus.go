// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package bus provides an in-memory implementation of the waitset.Transport
// interface, suitable for testing and for connecting endpoints within a
// single process.
//
// Endpoints on the same topic are matched with each other after a simulated
// discovery delay. A sample written before its reader is matched is not
// delivered to that reader. Each endpoint has its own dispatcher goroutine,
// which delivers the match and data events for that endpoint in order.
//
// A reader whose listener implements waitset.StatusListener is also told of
// liveliness changes, as writers are matched and closed. Deadlines are not
// modeled.
package bus

import (
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
	"github.com/creachadair/waitset"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options are settings for a Bus. A nil *Options provides default values.
type Options struct {
	// The delay between the creation of an endpoint and its match with the
	// peers on its topic. If zero, endpoints are matched immediately.
	MatchDelay time.Duration

	// The maximum number of unread samples each reader retains. When a
	// reader is full, its oldest unread sample is discarded. If zero or
	// negative, readers retain all unread samples.
	Depth int

	// If non-nil, bus events are logged here.
	Logger *zap.Logger
}

func (o *Options) matchDelay() time.Duration {
	if o == nil {
		return 0
	}
	return o.MatchDelay
}

func (o *Options) depth() int {
	if o == nil {
		return 0
	}
	return o.Depth
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// A Bus is an in-memory transport. It implements the [waitset.Transport]
// interface. A Bus must be closed when no longer in use, to stop its
// dispatchers.
type Bus struct {
	delay time.Duration
	depth int
	log   *zap.Logger
	tasks *taskgroup.Group

	μ      sync.Mutex
	topics map[string]*topic
	timers mapset.Set[*time.Timer] // pending matches
	closed bool
}

// A topic holds the live endpoints that share a name.
type topic struct {
	readers map[waitset.PeerID]*Reader
	writers map[waitset.PeerID]*Writer
}

func (t *topic) empty() bool { return len(t.readers) == 0 && len(t.writers) == 0 }

// New constructs a new empty bus with the given options.
func New(opts *Options) *Bus {
	return &Bus{
		delay:  opts.matchDelay(),
		depth:  opts.depth(),
		log:    opts.logger(),
		tasks:  taskgroup.New(nil),
		topics: make(map[string]*topic),
		timers: mapset.New[*time.Timer](),
	}
}

// NewReader implements a method of the [waitset.Transport] interface.
func (b *Bus) NewReader(name string, l waitset.ReaderListener) (waitset.Reader, error) {
	if l == nil {
		panic("nil reader listener")
	}
	b.μ.Lock()
	defer b.μ.Unlock()
	if b.closed {
		return nil, waitset.ErrClosed
	}
	r := &Reader{
		bus:     b,
		topic:   name,
		id:      waitset.NewPeerID(),
		l:       l,
		mb:      b.newMailbox(),
		depth:   b.depth,
		matched: make(map[waitset.PeerID]*Writer),
	}
	t := b.topicLocked(name)
	t.readers[r.id] = r
	for _, w := range t.writers {
		b.scheduleLocked(r, w)
	}
	b.log.Debug("new reader", zap.String("topic", name), zap.Stringer("id", r.id))
	return r, nil
}

// NewWriter implements a method of the [waitset.Transport] interface.
func (b *Bus) NewWriter(name string, l waitset.WriterListener) (waitset.Writer, error) {
	if l == nil {
		panic("nil writer listener")
	}
	b.μ.Lock()
	defer b.μ.Unlock()
	if b.closed {
		return nil, waitset.ErrClosed
	}
	w := &Writer{
		bus:     b,
		topic:   name,
		id:      waitset.NewPeerID(),
		l:       l,
		mb:      b.newMailbox(),
		matched: make(map[waitset.PeerID]*Reader),
	}
	t := b.topicLocked(name)
	t.writers[w.id] = w
	for _, r := range t.readers {
		b.scheduleLocked(r, w)
	}
	b.log.Debug("new writer", zap.String("topic", name), zap.Stringer("id", w.id))
	return w, nil
}

// Close closes all the endpoints on b and waits for their dispatchers to
// exit. After b is closed, no new endpoints can be created.
func (b *Bus) Close() error {
	b.μ.Lock()
	if b.closed {
		b.μ.Unlock()
		return nil
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	clear(b.timers)
	var eps []interface{ Close() error }
	for _, t := range b.topics {
		for _, r := range t.readers {
			eps = append(eps, r)
		}
		for _, w := range t.writers {
			eps = append(eps, w)
		}
	}
	b.μ.Unlock()

	var err error
	for _, ep := range eps {
		err = multierr.Append(err, ep.Close())
	}
	b.tasks.Wait()
	b.log.Debug("bus closed", zap.Int("endpoints", len(eps)))
	return err
}

func (b *Bus) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			readers: make(map[waitset.PeerID]*Reader),
			writers: make(map[waitset.PeerID]*Writer),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Bus) dropLocked(name string) {
	if t, ok := b.topics[name]; ok && t.empty() {
		delete(b.topics, name)
	}
}

// scheduleLocked arranges for r and w to be matched after the match delay.
func (b *Bus) scheduleLocked(r *Reader, w *Writer) {
	if b.delay <= 0 {
		b.matchLocked(r, w)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(b.delay, func() {
		b.μ.Lock()
		defer b.μ.Unlock()
		if b.timers.Has(t) {
			b.timers.Remove(t)
			b.matchLocked(r, w)
		}
	})
	b.timers.Add(t)
}

// matchLocked matches r and w, if both are still open.
func (b *Bus) matchLocked(r *Reader, w *Writer) {
	if r.closed || w.closed {
		return
	}
	r.matched[w.id] = w
	w.matched[r.id] = r
	r.mb.post(func() { r.l.OnMatch(w.id, true) })
	r.livelinessLocked(w.id, 1)
	w.mb.post(func() { w.l.OnMatch(r.id, true) })
	b.log.Debug("matched", zap.String("topic", r.topic),
		zap.Stringer("reader", r.id), zap.Stringer("writer", w.id))
}

// A Reader is a bus endpoint that receives samples. It implements the
// [waitset.Reader] interface.
type Reader struct {
	bus   *Bus
	topic string
	id    waitset.PeerID
	l     waitset.ReaderListener
	mb    *mailbox
	depth int

	// Fields below are guarded by bus.μ.
	matched map[waitset.PeerID]*Writer
	closed  bool

	μ    sync.Mutex
	hist queue.Queue[waitset.Sample]
	lost int64
}

// GUID implements a method of the [waitset.Reader] interface.
func (r *Reader) GUID() waitset.PeerID { return r.id }

// Topic reports the topic name of r.
func (r *Reader) Topic() string { return r.topic }

// TakeNext implements a method of the [waitset.Reader] interface.
func (r *Reader) TakeNext() (waitset.Sample, bool) {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.hist.Pop()
}

// UnreadCount implements a method of the [waitset.Reader] interface.
func (r *Reader) UnreadCount() uint64 {
	r.μ.Lock()
	defer r.μ.Unlock()
	return uint64(r.hist.Len())
}

// Lost reports the number of unread samples discarded because r was full.
func (r *Reader) Lost() int64 {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.lost
}

// deliver adds s to the history of r, and posts a data event.
func (r *Reader) deliver(s waitset.Sample) {
	r.μ.Lock()
	r.hist.Add(s)
	if r.depth > 0 && r.hist.Len() > r.depth {
		r.hist.Pop()
		r.lost++
	}
	r.μ.Unlock()
	r.mb.post(func() { r.l.OnData(r) })
}

// livelinessLocked posts a liveliness change for writer w to the listener of
// r, if it accepts status changes. The caller must hold bus.μ.
func (r *Reader) livelinessLocked(w waitset.PeerID, change int) {
	sl, ok := r.l.(waitset.StatusListener)
	if !ok {
		return
	}
	c := waitset.StatusChange{
		Type:        waitset.LivelinessChanged,
		Peer:        w,
		Count:       len(r.matched),
		CountChange: change,
	}
	r.mb.post(func() { sl.OnStatus(c) })
}

// Close implements a method of the [waitset.Reader] interface. The writers
// matched with r are notified that it is gone. Closing an already-closed
// reader has no effect.
func (r *Reader) Close() error {
	b := r.bus
	b.μ.Lock()
	defer b.μ.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for id, w := range r.matched {
		delete(w.matched, r.id)
		w.mb.post(func() { w.l.OnMatch(r.id, false) })
		delete(r.matched, id)
	}
	if t, ok := b.topics[r.topic]; ok {
		delete(t.readers, r.id)
		b.dropLocked(r.topic)
	}
	r.mb.close()

	r.μ.Lock()
	r.hist.Clear()
	r.μ.Unlock()
	return nil
}

// A Writer is a bus endpoint that sends samples. It implements the
// [waitset.Writer] interface.
type Writer struct {
	bus   *Bus
	topic string
	id    waitset.PeerID
	l     waitset.WriterListener
	mb    *mailbox

	// Fields below are guarded by bus.μ.
	matched map[waitset.PeerID]*Reader
	seq     int64
	closed  bool
}

// GUID implements a method of the [waitset.Writer] interface.
func (w *Writer) GUID() waitset.PeerID { return w.id }

// Topic reports the topic name of w.
func (w *Writer) Topic() string { return w.topic }

// Write implements a method of the [waitset.Writer] interface. The sample is
// delivered to each reader currently matched with w, and each receives its
// own copy of the payload.
func (w *Writer) Write(payload []byte, info waitset.SampleInfo) (waitset.SampleIdentity, error) {
	b := w.bus
	b.μ.Lock()
	defer b.μ.Unlock()
	if w.closed {
		return waitset.SampleIdentity{}, waitset.ErrClosed
	}
	if info.Identity.Seq <= 0 {
		w.seq++
		info.Identity.Seq = w.seq
	} else if info.Identity.Seq > w.seq {
		w.seq = info.Identity.Seq
	}
	info.Identity.Writer = w.id
	for _, r := range w.matched {
		r.deliver(waitset.Sample{Payload: clone(payload), Info: info})
	}
	return info.Identity, nil
}

// MatchedCount reports the number of readers currently matched with w.
func (w *Writer) MatchedCount() int {
	w.bus.μ.Lock()
	defer w.bus.μ.Unlock()
	return len(w.matched)
}

// Close implements a method of the [waitset.Writer] interface. The readers
// matched with w are notified that it is gone. Closing an already-closed
// writer has no effect.
func (w *Writer) Close() error {
	b := w.bus
	b.μ.Lock()
	defer b.μ.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	for id, r := range w.matched {
		delete(r.matched, w.id)
		r.mb.post(func() { r.l.OnMatch(w.id, false) })
		r.livelinessLocked(w.id, -1)
		delete(w.matched, id)
	}
	if t, ok := b.topics[w.topic]; ok {
		delete(t.writers, w.id)
		b.dropLocked(w.topic)
	}
	w.mb.close()
	return nil
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}
