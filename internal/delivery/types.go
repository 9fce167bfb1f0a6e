package delivery

import (
	"time"

	"livereply/internal/chat"
)

// Config controls spacing, retry and postponement. Zero fields take defaults.
type Config struct {
	MinInterval    time.Duration
	RetryHorizon   time.Duration
	RetryBackoff   time.Duration
	GuardBackoff   time.Duration
	AttemptTimeout time.Duration
	MaxQueue       int
	HistorySize    int
}

const (
	DefaultMinInterval    = 850 * time.Millisecond
	DefaultRetryHorizon   = 10 * time.Second
	DefaultRetryBackoff   = 200 * time.Millisecond
	DefaultGuardBackoff   = time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultMaxQueue       = 256
	DefaultHistorySize    = 100
)

func (c Config) withDefaults() Config {
	if c.MinInterval < 0 {
		c.MinInterval = 0
	} else if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.RetryHorizon <= 0 {
		c.RetryHorizon = DefaultRetryHorizon
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.GuardBackoff <= 0 {
		c.GuardBackoff = DefaultGuardBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = DefaultMaxQueue
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Guard is consulted before every attempt; while active nothing is sent.
type Guard interface {
	IsActive() bool
}

// Event type names published on the bus.
const (
	EventQueued    = "reply.queued"
	EventDelivered = "reply.delivered"
	EventRetry     = "reply.retry"
	EventPostponed = "reply.postponed"
	EventExpired   = "reply.expired"
	EventDropped   = "reply.dropped"
)

// JobEvent is the payload of every reply.* event. Keep it small; subscribers
// log and persist it.
type JobEvent struct {
	Session     string           `json:"session"`
	JobID       string           `json:"job_id"`
	Key         string           `json:"key"`
	Text        string           `json:"text"`
	Destination chat.Destination `json:"destination"`
	State       string           `json:"state"`
	Attempts    int              `json:"attempts"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
	At          time.Time        `json:"at"`
	Error       string           `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Depth     int  `json:"depth"`
	Draining  bool `json:"draining"`
	Queued    int  `json:"queued"`
	Delivered int  `json:"delivered"`
	Expired   int  `json:"expired"`
	Dropped   int  `json:"dropped"`
	Retries   int  `json:"retries"`
	Postponed int  `json:"postponed"`
}
