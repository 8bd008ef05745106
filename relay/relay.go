// Package relay wires the event sinks together. A single Relay is created at
// startup and handed to every producer: the listener supervisor, the
// side-channel loop and the HTTP poll server.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/queue"
	"github.com/onnwee/chat-relay/shutdown"
	"github.com/onnwee/chat-relay/sink"
	"github.com/onnwee/chat-relay/telemetry"
)

// Options configures New.
type Options struct {
	// Platform is the primary platform served, used for normalization and filtering.
	Platform string
	// QueueCapacity bounds the poll queue (<= 0 selects the default).
	QueueCapacity int
	// Output receives one JSON record per line. Required.
	Output io.Writer
	// Stop is the process stop latch. Required.
	Stop *shutdown.Coordinator
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Relay fans every event out to the line sink and, while enabled, the poll queue.
type Relay struct {
	id          string
	queue       *queue.Queue
	line        *sink.Line
	norm        *event.Normalizer
	stop        *shutdown.Coordinator
	now         func() time.Time
	httpEnabled atomic.Bool
}

// New builds the relay context.
func New(opts Options) *Relay {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	norm := event.NewNormalizer(opts.Platform)
	norm.Now = now
	r := &Relay{
		id:    uuid.NewString(),
		queue: queue.New(opts.QueueCapacity),
		line:  sink.NewLine(opts.Output),
		norm:  norm,
		stop:  opts.Stop,
		now:   now,
	}
	telemetry.SetHTTPSinkEnabled(false)
	return r
}

// ID identifies this relay instance in process logs.
func (r *Relay) ID() string { return r.id }

// Stop returns the shared stop latch.
func (r *Relay) Stop() *shutdown.Coordinator { return r.stop }

// Queue returns the poll queue.
func (r *Relay) Queue() *queue.Queue { return r.queue }

// Normalizer returns the normalizer bound to the served platform.
func (r *Relay) Normalizer() *event.Normalizer { return r.norm }

// Now returns the relay clock reading.
func (r *Relay) Now() time.Time { return r.now() }

// EnableHTTP starts mirroring events into the poll queue.
func (r *Relay) EnableHTTP() {
	r.httpEnabled.Store(true)
	telemetry.SetHTTPSinkEnabled(true)
}

// DisableHTTP stops mirroring events into the poll queue.
func (r *Relay) DisableHTTP() {
	r.httpEnabled.Store(false)
	telemetry.SetHTTPSinkEnabled(false)
}

// HTTPEnabled reports whether the poll queue currently receives events.
func (r *Relay) HTTPEnabled() bool { return r.httpEnabled.Load() }

// Publish writes ev to the line sink and, when enabled, the poll queue.
// A failing line sink never blocks the queue.
func (r *Relay) Publish(ev event.Event) {
	if err := r.line.Emit(ev); err != nil {
		telemetry.RecordSinkFailure("line")
		slog.Error("line sink write failed", slog.Any("err", err), slog.String("kind", string(ev.Kind())))
	}
	telemetry.RecordPublished(string(ev.Kind()))
	if !r.httpEnabled.Load() {
		return
	}
	telemetry.RecordEvicted(r.queue.Push(ev))
	telemetry.SetQueueDepth(r.queue.Len())
}

// Drain empties the poll queue for one HTTP response.
func (r *Relay) Drain() []event.Event {
	events := r.queue.DrainAll()
	telemetry.SetQueueDepth(0)
	return events
}

// Ingest normalizes and publishes a batch of raw payloads in order. Filtered
// and unknown payloads are skipped; malformed ones surface as error events.
// It returns the number of events published.
func (r *Relay) Ingest(raws []event.Raw) int {
	published := 0
	for _, raw := range raws {
		ev, err := r.norm.Normalize(raw)
		switch {
		case err == nil:
			r.Publish(ev)
			published++
		case errors.Is(err, event.ErrFiltered):
			telemetry.RecordSkipped("filtered")
		case errors.Is(err, event.ErrUnknownTag):
			telemetry.RecordSkipped("unknown_tag")
			slog.Debug("skipping payload", slog.String("tag", string(raw.Tag)), slog.String("source", raw.Source.String()))
		default:
			telemetry.RecordSkipped("malformed")
			r.Error("Event handling failed", map[string]any{
				"error":  err.Error(),
				"source": raw.Source.String(),
			})
		}
	}
	return published
}

// Log publishes a log event and mirrors it to the process log.
func (r *Relay) Log(level, message string, extra map[string]any) {
	slog.Log(context.Background(), slogLevel(level), message, attrs(extra)...)
	r.Publish(event.NewLog(r.now(), level, message, extra))
}

// Error publishes an error event and mirrors it to the process log.
func (r *Relay) Error(message string, extra map[string]any) {
	slog.Error(message, attrs(extra)...)
	r.Publish(event.NewError(r.now(), message, extra))
}

func slogLevel(level string) slog.Level {
	switch level {
	case event.LevelDebug:
		return slog.LevelDebug
	case event.LevelWarning:
		return slog.LevelWarn
	case event.LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func attrs(extra map[string]any) []any {
	out := make([]any, 0, len(extra)*2)
	for k, v := range extra {
		out = append(out, k, v)
	}
	return out
}
