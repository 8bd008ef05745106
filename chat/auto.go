package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLivenessInterval is how often a session polls stream status.
const DefaultLivenessInterval = 30 * time.Second

// LiveChecker reports whether a channel is broadcasting.
// *twitchapi.HelixClient implements it.
type LiveChecker interface {
	IsLive(ctx context.Context, login string) (bool, error)
}

// liveWatch rate-limits liveness polls for one channel. A nil checker
// always reports live.
type liveWatch struct {
	checker  LiveChecker
	channel  string
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newLiveWatch(c LiveChecker, channel string, interval time.Duration, now func() time.Time) *liveWatch {
	return &liveWatch{checker: c, channel: channel, interval: interval, now: now}
}

// check polls unconditionally.
func (w *liveWatch) check(ctx context.Context) (bool, error) {
	if w.checker == nil {
		return true, nil
	}
	w.mu.Lock()
	w.last = w.now()
	w.mu.Unlock()
	return w.checker.IsLive(ctx, w.channel)
}

// due polls when the interval has elapsed and reports live otherwise.
// Poll failures are treated as live; chat keeps flowing while Helix is down.
func (w *liveWatch) due(ctx context.Context) (bool, error) {
	if w.checker == nil {
		return true, nil
	}
	w.mu.Lock()
	if w.now().Sub(w.last) < w.interval {
		w.mu.Unlock()
		return true, nil
	}
	w.mu.Unlock()
	live, err := w.check(ctx)
	if err != nil {
		slog.Debug("twitch liveness poll failed", slog.String("channel", w.channel), slog.Any("err", err))
		return true, err
	}
	return live, nil
}
