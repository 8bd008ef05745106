// Package server exposes the relay over HTTP: the long-poll endpoint overlay
// pages read events from, and an optional admin listener with health,
// readiness and metrics. Requests carry correlation IDs for consistent logging.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/relay"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// PollOptions configures the long-poll server.
type PollOptions struct {
	Endpoint        string
	PathPrefix      string
	CORS            CORSConfig
	ShutdownTimeout time.Duration
}

// AdminOptions configures the admin server.
type AdminOptions struct {
	Addr            string
	Auth            AuthConfig
	Ready           ReadinessFunc
	Status          StatusFunc
	ShutdownTimeout time.Duration
}

// Server is an HTTP listener whose lifetime follows the relay stop latch.
type Server struct {
	name            string
	relay           *relay.Relay
	addr            string
	srv             *http.Server
	shutdownTimeout time.Duration

	onStart func(net.Addr)
	onStop  func()

	ln net.Listener
}

// NewPollServer validates the endpoint and builds the long-poll server.
func NewPollServer(r *relay.Relay, opts PollOptions) (*Server, error) {
	host, port, err := ParseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	prefix := NormalizePrefix(opts.PathPrefix)
	handler := withCORSConfig(withObservability("poll", NewPollMux(r, prefix)), opts.CORS)
	s := newServer("http-poll", r, net.JoinHostPort(host, strconv.Itoa(port)), handler, opts.ShutdownTimeout)
	s.onStart = func(a net.Addr) {
		r.EnableHTTP()
		base, events := pollURLs(host, a, prefix)
		r.Log(event.LevelInfo, "HTTP polling endpoint started", map[string]any{
			"url":       base,
			"eventsUrl": events,
		})
	}
	s.onStop = r.DisableHTTP
	return s, nil
}

// NewAdminServer builds the admin server (health, readiness, status, metrics).
func NewAdminServer(r *relay.Relay, opts AdminOptions) *Server {
	return newServer("http-admin", r, opts.Addr, NewAdminMux(r, opts), opts.ShutdownTimeout)
}

// NewAdminMux returns the admin routes. /status and /metrics sit behind
// admin auth; the health endpoints stay open.
func NewAdminMux(r *relay.Relay, opts AdminOptions) http.Handler {
	mux := http.NewServeMux()
	h := &Handlers{relay: r, ready: opts.Ready, status: opts.Status}
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.Handle("/status", adminAuth(http.HandlerFunc(h.HandleStatus), opts.Auth))
	mux.Handle("/metrics", adminAuth(promhttp.Handler(), opts.Auth))
	return withObservability("admin", mux)
}

func newServer(name string, r *relay.Relay, addr string, handler http.Handler, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Server{
		name:  name,
		relay: r,
		addr:  addr,
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

// Start binds the listener synchronously, so bind failures are returned to
// the caller, then serves in the background until the relay stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	// onStart runs before the shutdown goroutine so onStop always follows it.
	if s.onStart != nil {
		s.onStart(ln.Addr())
	}
	stop := s.relay.Stop()
	stop.Go(s.name, func(context.Context) {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("err", err), slog.String("server", s.name))
		}
	})
	stop.Go(s.name+"-shutdown", func(ctx context.Context) {
		<-ctx.Done()
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.relay.Log(event.LevelWarning, "HTTP server shutdown failed", map[string]any{"error": err.Error()})
		}
	})
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests, up
// to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.onStop != nil {
		defer s.onStop()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		_ = s.srv.Close()
		return err
	}
	return nil
}

// pollURLs derives the advertised base and events URLs. The bound address
// supplies the port so ":0" endpoints report the real one.
func pollURLs(host string, bound net.Addr, prefix string) (string, string) {
	port := ""
	if tcp, ok := bound.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	origin := "http://" + net.JoinHostPort(host, port)
	base := origin + prefix
	if trimmed := strings.TrimRight(base, "/"); trimmed != "" {
		base = trimmed
	}
	return base, origin + EventsPath(prefix)
}
