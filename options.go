// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package waitset

import (
	"time"

	"github.com/creachadair/mds/value"
	"go.uber.org/zap"
)

// DefaultPresenceTimeout is the default interval a presence check waits for
// a reply destination to be matched.
const DefaultPresenceTimeout = 100 * time.Millisecond

// Options are settings for a [Node] and the endpoints it creates. A nil
// *Options is ready for use and provides default values.
type Options struct {
	// PresenceTimeout bounds how long a presence check waits for a reply
	// destination to be matched. If zero, DefaultPresenceTimeout is used.
	PresenceTimeout time.Duration

	// QueueLimit, if positive, is the maximum number of requests a service
	// will hold in its queue. A request arriving at a full queue is dropped
	// and counted in the requests_dropped metric. If zero, the queue is
	// unbounded.
	QueueLimit int

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zap.Logger
}

func (o *Options) presenceTimeout() time.Duration {
	if o == nil {
		return DefaultPresenceTimeout
	}
	return value.Cond(o.PresenceTimeout > 0, o.PresenceTimeout, DefaultPresenceTimeout)
}

func (o *Options) queueLimit() int {
	if o == nil || o.QueueLimit < 0 {
		return 0
	}
	return o.QueueLimit
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
