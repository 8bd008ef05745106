package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// State of the primary listener.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults for Config.
const (
	DefaultPollInterval = time.Second
	DefaultBackoff      = 10 * time.Second
)

// Config tunes a Supervisor.
type Config struct {
	Identifier     string
	PollInterval   time.Duration
	Backoff        time.Duration
	ConnectTimeout time.Duration
}

// Supervisor keeps one primary feed connected until the relay stops.
type Supervisor struct {
	relay *relay.Relay
	feed  Feed
	cfg   Config
	state atomic.Int32

	// OnTransition, when set before Run, observes every state change.
	OnTransition func(from, to State)

	// sleep is the stop-interruptible wait; replaced in tests.
	sleep func(time.Duration) bool
}

// NewSupervisor returns a supervisor in the Idle state.
func NewSupervisor(r *relay.Relay, feed Feed, cfg Config) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Supervisor{relay: r, feed: feed, cfg: cfg, sleep: r.Stop().Sleep}
}

// State returns the current listener state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Run drives the connect/stream/reconnect loop until the relay stops or a
// fatal error occurs. A fatal error sets the stop latch and is returned.
func (s *Supervisor) Run() error {
	stop := s.relay.Stop()
	ctx := stop.Context()
	attempt := 0

	for !stop.Stopped() {
		attempt++
		s.transition(StateConnecting, event.LevelInfo, fmt.Sprintf("Connecting to %s chat", s.feed.Name()), map[string]any{"attempt": attempt})

		err := s.stream(ctx, attempt)
		if stop.Stopped() {
			break
		}

		switch ClassifyError(err) {
		case ErrorClassFatal:
			s.relay.Error("Unrecoverable listener error", map[string]any{
				"error":            err.Error(),
				"feed":             s.feed.Name(),
				"streamIdentifier": s.cfg.Identifier,
			})
			s.transition(StateStopped, event.LevelError, "Listener stopped", nil)
			stop.Stop()
			return err
		case ErrorClassEndOfStream:
			s.transition(StateReconnecting, event.LevelInfo, "Chat stream ended; reconnecting", map[string]any{
				"retryInSeconds": s.cfg.Backoff.Seconds(),
			})
		default:
			s.transition(StateReconnecting, event.LevelWarning, "Listener error; reconnecting", map[string]any{
				"error":          errString(err),
				"retryInSeconds": s.cfg.Backoff.Seconds(),
			})
		}

		if !s.sleep(s.cfg.Backoff) {
			break
		}
	}

	s.transition(StateStopped, event.LevelInfo, "Listener stopped", nil)
	return nil
}

// stream runs one connect + poll cycle. A nil return means the stop latch was set.
func (s *Supervisor) stream(ctx context.Context, attempt int) error {
	sess, err := s.connect(ctx, attempt)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Terminate(); err != nil {
			slog.Warn("session terminate failed", slog.Any("err", err), slog.String("feed", s.feed.Name()))
		}
	}()

	s.transition(StateStreaming, event.LevelInfo, fmt.Sprintf("Connected to %s chat", s.feed.Name()), nil)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !sess.Alive() {
			return ErrEndOfStream
		}
		raws, err := sess.NextBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.relay.Ingest(raws)
		if !s.sleep(s.cfg.PollInterval) {
			return nil
		}
	}
}

func (s *Supervisor) connect(ctx context.Context, attempt int) (Session, error) {
	cctx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	cctx, span := telemetry.StartSpan(cctx, "listener", "feed.connect",
		telemetry.FeedAttr(s.feed.Name()),
		telemetry.StreamAttr(s.cfg.Identifier),
		telemetry.AttemptAttr(attempt),
	)
	defer span.End()

	var (
		sess Session
		err  error
	)
	telemetry.TimeFunc(telemetry.ConnectObserver(s.feed.Name()), func() {
		sess, err = s.feed.Connect(cctx, s.cfg.Identifier)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("connect %s: %w", s.feed.Name(), err)
	}
	telemetry.SetSpanSuccess(span)
	return sess, nil
}

func (s *Supervisor) transition(to State, level, message string, extra map[string]any) {
	from := State(s.state.Swap(int32(to)))
	fields := map[string]any{
		"state":            to.String(),
		"feed":             s.feed.Name(),
		"streamIdentifier": s.cfg.Identifier,
	}
	for k, v := range extra {
		fields[k] = v
	}
	s.relay.Log(level, message, fields)
	telemetry.RecordTransition(s.feed.Name(), to.String(), int(to))
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}

func errString(err error) string {
	if err == nil {
		return ErrEndOfStream.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "connect timed out: " + err.Error()
	}
	return err.Error()
}
