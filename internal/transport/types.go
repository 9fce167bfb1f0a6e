// Package transport defines the collaborator contracts the reply pipeline
// talks to. Adapters live in subpackages.
package transport

import (
	"context"
	"errors"

	"livereply/internal/chat"
)

var (
	ErrDisconnected = errors.New("transport: not connected")
	ErrTimeout      = errors.New("transport: delivery timed out")
)

// Foreground receives interaction start/end signals from the send surface.
type Foreground interface {
	InteractionStarted()
	InteractionEnded()
}

// Source feeds raw observations until ctx is done or the source fails.
// It may deliver duplicates and gives no ordering guarantee.
//
// Run must not close out. fg is never nil.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- chat.RawObservation, fg Foreground) error
}

// Sink delivers one reply. Any error is retryable.
type Sink interface {
	Deliver(ctx context.Context, to chat.Destination, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, to chat.Destination, text string) error

func (f SinkFunc) Deliver(ctx context.Context, to chat.Destination, text string) error {
	return f(ctx, to, text)
}

// NopForeground discards interaction signals.
type NopForeground struct{}

func (NopForeground) InteractionStarted() {}
func (NopForeground) InteractionEnded()   {}

// Notifier sends operator-facing text (log alerts, reports). It is separate
// from Sink: notifications never go to the chat being replied to.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
