package listener

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/chat-relay/event"
)

// DefaultPlaceholderInterval spaces heartbeats when no interval is configured.
const DefaultPlaceholderInterval = 5 * time.Second

// Placeholder is the inert feed used when the real platform client is
// unavailable. It announces itself once and then emits heartbeat logs.
type Placeholder struct {
	Interval time.Duration
	Now      func() time.Time
}

// NewPlaceholder returns a placeholder feed emitting a heartbeat every interval.
func NewPlaceholder(interval time.Duration) *Placeholder {
	if interval <= 0 {
		interval = DefaultPlaceholderInterval
	}
	return &Placeholder{Interval: interval, Now: time.Now}
}

func (p *Placeholder) Name() string { return "placeholder" }

func (p *Placeholder) Connect(_ context.Context, identifier string) (Session, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &placeholderSession{identifier: identifier, interval: p.Interval, now: now}, nil
}

type placeholderSession struct {
	identifier string
	interval   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	announced bool
	next      time.Time
}

func (s *placeholderSession) Alive() bool { return true }

func (s *placeholderSession) NextBatch(context.Context) ([]event.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.announced {
		s.announced = true
		s.next = now.Add(s.interval)
		return []event.Raw{{
			Tag:      event.TagChat,
			Received: now,
			Fields:   map[string]any{event.FieldMessage: "Simulated relay for " + s.identifier},
		}}, nil
	}
	if now.Before(s.next) {
		return nil, nil
	}
	s.next = now.Add(s.interval)
	return []event.Raw{{
		Tag:      event.TagHeartbeat,
		Received: now,
		Fields: map[string]any{
			"stream":           "placeholder",
			"streamIdentifier": s.identifier,
		},
	}}, nil
}

func (s *placeholderSession) Terminate() error { return nil }
