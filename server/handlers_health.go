package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/chat-relay/relay"
)

// ReadinessFunc reports why the relay is not ready, or nil when it is.
type ReadinessFunc func() error

// Handlers serves the admin endpoints.
type Handlers struct {
	relay  *relay.Relay
	ready  ReadinessFunc
	status StatusFunc
}

// HandleHealthz responds to liveness check requests; unhealthy once stopping.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.relay.Stop().Stopped() {
		http.Error(w, "stopping", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness check requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"shutdown", func() error {
			if h.relay.Stop().Stopped() {
				return fmt.Errorf("relay stopping")
			}
			return nil
		}},
		{"listener", func() error {
			if h.ready == nil {
				return nil
			}
			return h.ready()
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ready",
		"queueDepth":  h.relay.Queue().Len(),
		"httpEnabled": h.relay.HTTPEnabled(),
	})
}
