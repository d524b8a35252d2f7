// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

// A Transport creates the endpoints used by a [Node]. The transport owns the
// dispatcher goroutines that deliver events to listeners.
//
// A transport must deliver the events for a single endpoint one at a time,
// but may deliver events for different endpoints concurrently. A transport
// may deliver events to a listener before the constructor that registered it
// has returned.
type Transport interface {
	// NewReader creates a reader on the named topic whose events are
	// delivered to l.
	NewReader(topic string, l ReaderListener) (Reader, error)

	// NewWriter creates a writer on the named topic whose match events are
	// delivered to l.
	NewWriter(topic string, l WriterListener) (Writer, error)
}

// A Reader is the transport side of an inbound endpoint.
//
// The methods of a Reader may acquire locks internal to the transport.
// Listeners must not call them while holding their own locks.
type Reader interface {
	// GUID reports the identity of the reader.
	GUID() PeerID

	// TakeNext removes and returns the next available sample, reporting
	// false if none is available.
	TakeNext() (Sample, bool)

	// UnreadCount reports the number of samples available to TakeNext.
	UnreadCount() uint64

	// Close closes the reader. After a reader is closed, no further events
	// are delivered to its listener.
	Close() error
}

// A Writer is the transport side of an outbound endpoint.
type Writer interface {
	// GUID reports the identity of the writer.
	GUID() PeerID

	// Write sends a sample to every matched reader. The transport sets the
	// writer of info.Identity, and assigns a sequence number if info does
	// not already have one. It returns the identity of the written sample.
	Write(payload []byte, info SampleInfo) (SampleIdentity, error)

	// Close closes the writer.
	Close() error
}

// A ReaderListener receives events for a [Reader].
type ReaderListener interface {
	// OnMatch reports that the writer peer has been matched (true) or
	// unmatched (false) with the reader.
	OnMatch(peer PeerID, matched bool)

	// OnData reports that new data may be available from r.
	OnData(r Reader)
}

// A StatusListener is an optional extension of [ReaderListener]. If the
// listener for a reader implements StatusListener, the transport reports
// changes to the status of the reader through it.
type StatusListener interface {
	// OnStatus reports a change to the status of the reader.
	OnStatus(c StatusChange)
}

// A WriterListener receives events for a [Writer].
type WriterListener interface {
	// OnMatch reports that the reader peer has been matched (true) or
	// unmatched (false) with the writer.
	OnMatch(peer PeerID, matched bool)
}
