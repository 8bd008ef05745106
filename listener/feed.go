// Package listener supervises the primary chat feed and the optional
// side-channel notification feed. Feeds are reached through small capability
// interfaces so the supervisor never depends on a platform client directly.
package listener

import (
	"context"

	"github.com/onnwee/chat-relay/event"
)

// Feed is a primary chat source.
type Feed interface {
	// Name labels the feed in logs and metrics.
	Name() string
	// Connect opens a session for the stream identifier.
	Connect(ctx context.Context, identifier string) (Session, error)
}

// Session is one connected stream.
type Session interface {
	// Alive reports whether more messages can arrive.
	Alive() bool
	// NextBatch returns the payloads received since the previous call. It
	// may return an empty batch and should not block for long.
	NextBatch(ctx context.Context) ([]event.Raw, error)
	// Terminate releases the session.
	Terminate() error
}

// Notifier is a side-channel notification source.
type Notifier interface {
	Name() string
	Connect(ctx context.Context) (Subscription, error)
}

// Subscription delivers side-channel payloads until closed.
type Subscription interface {
	// Next blocks until payloads arrive, the subscription drops or ctx ends.
	Next(ctx context.Context) ([]event.Raw, error)
	Close() error
}
