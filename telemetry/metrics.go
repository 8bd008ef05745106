// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsPublished     *prometheus.CounterVec // by kind
	EventsSkipped       *prometheus.CounterVec // by reason
	EventsEvicted       prometheus.Counter
	SinkWriteFailures   *prometheus.CounterVec // by sink
	PollRequests        *prometheus.CounterVec // by method, status
	ListenerTransitions *prometheus.CounterVec // by feed, state
	SideChannelConnects *prometheus.CounterVec // by result

	// Histograms
	PollBatchSize   prometheus.Observer
	ConnectDuration *prometheus.HistogramVec // seconds, by feed

	// Gauges
	QueueDepthGauge    prometheus.Gauge
	ListenerStateGauge *prometheus.GaugeVec // by feed; value is the numeric state
	HTTPSinkEnabled    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_events_published_total", Help: "Events written to the line sink"}, []string{"kind"})
		EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_events_skipped_total", Help: "Raw payloads that produced no event"}, []string{"reason"})
		EventsEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_queue_evicted_total", Help: "Events dropped from the poll queue to make room"})
		SinkWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_sink_write_failures_total", Help: "Failed sink writes"}, []string{"sink"})
		PollRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_poll_requests_total", Help: "Long-poll requests by method and status"}, []string{"method", "status"})
		ListenerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_listener_transitions_total", Help: "Listener state transitions"}, []string{"feed", "state"})
		SideChannelConnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_side_channel_connects_total", Help: "Side-channel connection attempts"}, []string{"result"})
		PollBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_poll_batch_size", Help: "Events returned per non-empty poll", Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}})
		ConnectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "relay_listener_connect_duration_seconds", Help: "Feed connect duration seconds", Buckets: prometheus.DefBuckets}, []string{"feed"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_queue_depth", Help: "Events waiting for a poller"})
		ListenerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "relay_listener_state", Help: "Listener state (0=idle,1=connecting,2=streaming,3=reconnecting,4=stopped)"}, []string{"feed"})
		HTTPSinkEnabled = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_http_sink_enabled", Help: "HTTP poll sink enabled=1 disabled=0"})
	})
}

// RecordPublished counts an event written by the relay.
func RecordPublished(kind string) {
	if EventsPublished != nil {
		EventsPublished.WithLabelValues(kind).Inc()
	}
}

// RecordSkipped counts a raw payload dropped by the normalizer.
func RecordSkipped(reason string) {
	if EventsSkipped != nil {
		EventsSkipped.WithLabelValues(reason).Inc()
	}
}

// RecordEvicted counts queue evictions.
func RecordEvicted(n int) {
	if EventsEvicted != nil && n > 0 {
		EventsEvicted.Add(float64(n))
	}
}

// RecordSinkFailure counts a failed write on the named sink.
func RecordSinkFailure(sink string) {
	if SinkWriteFailures != nil {
		SinkWriteFailures.WithLabelValues(sink).Inc()
	}
}

// SetQueueDepth records the current number of queued events.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetHTTPSinkEnabled sets the gauge to 1 if enabled else 0.
func SetHTTPSinkEnabled(enabled bool) {
	if HTTPSinkEnabled == nil {
		return
	}
	if enabled {
		HTTPSinkEnabled.Set(1)
	} else {
		HTTPSinkEnabled.Set(0)
	}
}

// RecordPoll counts a long-poll request and, for non-empty drains, its batch size.
func RecordPoll(method string, status, batch int) {
	if PollRequests != nil {
		PollRequests.WithLabelValues(method, statusLabel(status)).Inc()
	}
	if PollBatchSize != nil && batch > 0 {
		PollBatchSize.Observe(float64(batch))
	}
}

// RecordTransition counts a listener state change and updates the state gauge.
func RecordTransition(feed, state string, value int) {
	if ListenerTransitions != nil {
		ListenerTransitions.WithLabelValues(feed, state).Inc()
	}
	if ListenerStateGauge != nil {
		ListenerStateGauge.WithLabelValues(feed).Set(float64(value))
	}
}

// RecordSideChannelConnect counts a side-channel connection attempt.
func RecordSideChannelConnect(ok bool) {
	if SideChannelConnects == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	SideChannelConnects.WithLabelValues(result).Inc()
}

// ConnectObserver returns the connect-duration observer for feed, or nil before Init.
func ConnectObserver(feed string) prometheus.Observer {
	if ConnectDuration == nil {
		return nil
	}
	return ConnectDuration.WithLabelValues(feed)
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code == 204:
		return "204"
	case code >= 200 && code < 300:
		return "2xx"
	}
	return "other"
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
