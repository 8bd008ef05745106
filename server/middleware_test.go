package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/telemetry"
)

func TestAdminAuth(t *testing.T) {
	creds := AuthConfig{Username: "admin", Password: "hunter2", Token: "relay-token"}
	tests := []struct {
		name    string
		cfg     AuthConfig
		prepare func(*http.Request)
		want    int
	}{
		{name: "open when unconfigured", cfg: AuthConfig{}, want: http.StatusOK},
		{name: "missing credentials", cfg: creds, want: http.StatusUnauthorized},
		{name: "admin token header", cfg: creds, prepare: func(r *http.Request) { r.Header.Set("X-Admin-Token", "relay-token") }, want: http.StatusOK},
		{name: "bearer token", cfg: creds, prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer relay-token") }, want: http.StatusOK},
		{name: "wrong bearer token", cfg: creds, prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, want: http.StatusUnauthorized},
		{name: "basic auth", cfg: creds, prepare: func(r *http.Request) { r.SetBasicAuth("admin", "hunter2") }, want: http.StatusOK},
		{name: "basic auth wrong password", cfg: creds, prepare: func(r *http.Request) { r.SetBasicAuth("admin", "hunter3") }, want: http.StatusUnauthorized},
		{
			name:    "token ignored when only basic configured",
			cfg:     AuthConfig{Username: "admin", Password: "hunter2"},
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer relay-token") },
			want:    http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := adminAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), tt.cfg)
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate challenge")
			}
		})
	}
}

func TestPollCORS(t *testing.T) {
	tests := []struct {
		name   string
		cfg    CORSConfig
		origin string
		want   string
	}{
		{name: "permissive", cfg: CORSConfig{Permissive: true}, origin: "https://overlay.example", want: "*"},
		{name: "listed origin", cfg: CORSConfig{AllowedOrigins: []string{"https://a.example", "https://overlay.example"}}, origin: "https://overlay.example", want: "https://overlay.example"},
		{name: "unlisted origin", cfg: CORSConfig{AllowedOrigins: []string{"https://a.example"}}, origin: "https://overlay.example", want: ""},
		{name: "wildcard subdomain", cfg: CORSConfig{AllowedOrigins: []string{"*.streamer.tv"}}, origin: "https://obs.streamer.tv", want: "https://obs.streamer.tv"},
		{name: "wildcard bare domain", cfg: CORSConfig{AllowedOrigins: []string{"*.streamer.tv"}}, origin: "https://streamer.tv", want: "https://streamer.tv"},
		{name: "no origin", cfg: CORSConfig{AllowedOrigins: []string{"https://a.example"}}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(t)
			h := withCORSConfig(NewPollMux(r, "/"), tt.cfg)
			req := httptest.NewRequest(http.MethodHead, "/events", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusNoContent {
				t.Fatalf("HEAD = %d, want 204", rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPollPreflightDoesNotDrain(t *testing.T) {
	r := newTestRelay(t)
	r.EnableHTTP()
	r.Log(event.LevelInfo, "queued", nil)

	h := withCORSConfig(NewPollMux(r, "/overlay"), CORSConfig{Permissive: true})
	req := httptest.NewRequest(http.MethodOptions, "/overlay/events", nil)
	req.Header.Set("Origin", "https://overlay.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("OPTIONS = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, HEAD, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if r.Queue().Len() != 1 {
		t.Errorf("preflight drained the queue: len = %d", r.Queue().Len())
	}
}

func TestObservabilityCorrelationID(t *testing.T) {
	var seen string
	h := withObservability("poll", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = telemetry.GetCorrelation(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-1" || seen != "corr-1" {
		t.Errorf("correlation = header %q ctx %q, want corr-1", got, seen)
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation id not generated")
	}
}
