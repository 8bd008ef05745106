package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// SideChannelConfig tunes the side-channel loop.
type SideChannelConfig struct {
	// MaxRetries bounds connect attempts per round before cooling down.
	MaxRetries int
	// BaseDelay and MaxDelay bound the exponential backoff between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Cooldown is the wait after a dropped subscription or an exhausted round.
	Cooldown time.Duration
}

func (c SideChannelConfig) withDefaults() SideChannelConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 8 * c.BaseDelay
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultBackoff
	}
	return c
}

// SideChannel relays notifications from a Notifier independently of the
// primary supervisor.
type SideChannel struct {
	relay    *relay.Relay
	notifier Notifier
	cfg      SideChannelConfig
	retry    retrypolicy.RetryPolicy[Subscription]
	sleep    func(time.Duration) bool
}

// NewSideChannel builds the loop and its connect retry policy.
func NewSideChannel(r *relay.Relay, n Notifier, cfg SideChannelConfig) *SideChannel {
	cfg = cfg.withDefaults()
	policy := retrypolicy.NewBuilder[Subscription]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ Subscription, err error) bool {
			return err != nil && !IsFatal(err)
		}).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[Subscription]) {
			slog.Warn("side-channel connect retry",
				slog.String("notifier", n.Name()),
				slog.Int("attempt", e.Attempts()),
				slog.Any("err", e.LastError()))
		}).
		Build()
	return &SideChannel{relay: r, notifier: n, cfg: cfg, retry: policy, sleep: r.Stop().Sleep}
}

// Run connects, relays and reconnects until ctx is done or a fatal error.
func (s *SideChannel) Run(ctx context.Context) {
	name := s.notifier.Name()
	for ctx.Err() == nil {
		sub, err := failsafe.With[Subscription](s.retry).WithContext(ctx).Get(func() (Subscription, error) {
			return s.notifier.Connect(ctx)
		})
		if ctx.Err() != nil {
			if sub != nil {
				_ = sub.Close()
			}
			return
		}
		telemetry.RecordSideChannelConnect(err == nil)
		if err != nil {
			s.relay.Error("Failed to connect to "+name, map[string]any{"error": err.Error()})
			if IsFatal(err) {
				return
			}
			if !s.sleep(s.cfg.Cooldown) {
				return
			}
			continue
		}

		s.relay.Log(event.LevelInfo, "Connected to "+name, nil)
		s.consume(ctx, sub)
		if err := sub.Close(); err != nil {
			s.relay.Log(event.LevelWarning, name+" disconnect failed", map[string]any{"error": err.Error()})
		}
		s.relay.Log(event.LevelInfo, "Disconnected from "+name, nil)

		if !s.sleep(s.cfg.Cooldown) {
			return
		}
	}
}

func (s *SideChannel) consume(ctx context.Context, sub Subscription) {
	for {
		raws, err := sub.Next(ctx)
		if len(raws) > 0 {
			s.relay.Ingest(raws)
		}
		var perr *PayloadError
		if errors.As(err, &perr) {
			s.relay.Error(s.notifier.Name()+" event handling failed", map[string]any{"error": perr.Err.Error()})
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("side-channel subscription dropped", slog.String("notifier", s.notifier.Name()), slog.Any("err", err))
			}
			return
		}
	}
}
