package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/telemetry"
)

// ErrInvalidEndpoint is returned by ParseEndpoint for unusable endpoints.
var ErrInvalidEndpoint = errors.New("invalid HTTP endpoint")

// NormalizePrefix canonicalizes a poll path prefix: empty becomes "/", a
// leading slash is ensured and trailing slashes are trimmed (except root).
func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// EventsPath returns the "/events" alias under prefix.
func EventsPath(prefix string) string {
	return strings.TrimSuffix(NormalizePrefix(prefix), "/") + "/events"
}

// ParseEndpoint splits "host:port" or "http://host:port" into its parts. The
// port is mandatory; a missing host defaults to 127.0.0.1.
func ParseEndpoint(endpoint string) (string, int, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", 0, fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidEndpoint)
	}
	raw := endpoint
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	portStr := u.Port()
	if portStr == "" {
		return "", 0, fmt.Errorf("%w: endpoint must include a port", ErrInvalidEndpoint)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, portStr)
	}
	return host, port, nil
}

// NewPollMux returns the long-poll handler for prefix. GET drains the relay
// queue, HEAD checks without draining, other paths are 404.
func NewPollMux(r *relay.Relay, prefix string) http.Handler {
	prefix = NormalizePrefix(prefix)
	allowed := map[string]struct{}{
		prefix:             {},
		EventsPath(prefix): {},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if _, ok := allowed[req.URL.Path]; !ok {
			telemetry.RecordPoll(req.Method, http.StatusNotFound, 0)
			http.NotFound(w, req)
			return
		}
		switch req.Method {
		case http.MethodGet:
			servePoll(w, r)
		case http.MethodHead:
			h := w.Header()
			h.Set("Cache-Control", "no-store")
			h.Set("X-Accel-Buffering", "no")
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusNoContent)
			telemetry.RecordPoll(req.Method, http.StatusNoContent, 0)
		default:
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			telemetry.RecordPoll(req.Method, http.StatusMethodNotAllowed, 0)
		}
	})
}

func servePoll(w http.ResponseWriter, r *relay.Relay) {
	events := r.Drain()
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	if len(events) == 0 {
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusNoContent)
		telemetry.RecordPoll(http.MethodGet, http.StatusNoContent, 0)
		return
	}

	var body bytes.Buffer
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			slog.Error("encode polled event", slog.Any("err", err), slog.String("kind", string(ev.Kind())))
			continue
		}
		body.Write(line)
		body.WriteByte('\n')
	}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(body.Len()))
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body.Bytes()); err != nil {
		slog.Debug("poll client went away", slog.Any("err", err))
	}
	telemetry.RecordPoll(http.MethodGet, http.StatusOK, len(events))
}
