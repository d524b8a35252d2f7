// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"fmt"

	"github.com/google/uuid"
)

// A PeerID is an opaque identity for a transport endpoint. Peer identities are
// comparable, and the zero value denotes an unknown peer.
type PeerID [16]byte

// NewPeerID returns a fresh random peer identity.
func NewPeerID() PeerID { return PeerID(uuid.New()) }

// IsZero reports whether p is the unknown peer.
func (p PeerID) IsZero() bool { return p == PeerID{} }

// String returns a human-friendly rendering of the peer identity.
func (p PeerID) String() string {
	if p.IsZero() {
		return "unknown"
	}
	return uuid.UUID(p).String()
}

// A SampleIdentity names a single sample written by a transport endpoint.
type SampleIdentity struct {
	Writer PeerID // the endpoint that wrote the sample
	Seq    int64  // sequence number assigned by the writer
}

// IsZero reports whether s is the empty identity.
func (s SampleIdentity) IsZero() bool { return s == SampleIdentity{} }

// String returns a human-friendly rendering of the identity.
func (s SampleIdentity) String() string { return fmt.Sprintf("Sample(%v#%d)", s.Writer, s.Seq) }

// SampleInfo is the transport metadata delivered with a sample.
type SampleInfo struct {
	// Identity is the identity of the sample itself.
	Identity SampleIdentity

	// Related is the identity of a sample this one refers to.
	//
	// For a service request, Related.Writer optionally names the endpoint
	// that should receive the reply. For a reply, Related is the identity of
	// the request it answers.
	Related SampleIdentity

	// Alive is false if the sample carries no valid data, for example when
	// the transport reports a disposed instance.
	Alive bool
}

// A Sample is a payload together with its transport metadata.
type Sample struct {
	Payload []byte
	Info    SampleInfo
}

// String returns a human-friendly rendering of the sample.
func (s Sample) String() string {
	data := fmt.Sprintf("%+v", s.Payload)
	if len(s.Payload) > 16 {
		data = fmt.Sprintf("%+v ...", s.Payload[:16])
	}
	return fmt.Sprintf("Sample(ID=%v, Related=%v, Alive=%v, Data=%s)",
		s.Info.Identity, s.Info.Related, s.Info.Alive, data)
}
