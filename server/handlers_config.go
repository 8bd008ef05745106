package server

import (
	"encoding/json"
	"net/http"
	"os"
)

// safeConfigKeys lists the settings /status may echo; secrets never appear here.
var safeConfigKeys = []string{
	"LOG_LEVEL",
	"LOG_FORMAT",
	"FEED_PLATFORM",
	"STREAM_ID",
	"HTTP_ENDPOINT",
	"HTTP_PATH_PREFIX",
	"POLL_INTERVAL",
	"RECONNECT_BACKOFF",
	"QUEUE_CAPACITY",
	"PLACEHOLDER_INTERVAL",
	"SIDE_CHANNEL_MAX_RETRIES",
	"SIDE_CHANNEL_COOLDOWN",
}

// StatusFunc contributes extra fields to the /status response.
type StatusFunc func() map[string]any

// HandleStatus returns a lightweight summary of the relay: queue depth, sink
// state, stop latch and whatever the caller's StatusFunc reports.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := h.relay.Queue()
	resp := map[string]any{
		"relayId":       h.relay.ID(),
		"queueDepth":    q.Len(),
		"queueCapacity": q.Cap(),
		"httpEnabled":   h.relay.HTTPEnabled(),
		"stopping":      h.relay.Stop().Stopped(),
	}
	if h.status != nil {
		for k, v := range h.status() {
			resp[k] = v
		}
	}

	cfg := map[string]string{}
	for _, k := range safeConfigKeys {
		if v := os.Getenv(k); v != "" {
			cfg[k] = v
		}
	}
	if len(cfg) > 0 {
		resp["config"] = cfg
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
