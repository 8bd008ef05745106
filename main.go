// Command chat-relay bridges one live-stream chat feed, plus optional
// Streamlabs alerts, into a single normalized event stream.
// It:
//   - Loads configuration (.env, optional YAML file, env, CLI flags) and
//     initializes structured logging on stderr.
//   - Writes every event as one JSON line on stdout.
//   - Optionally serves the HTTP long-poll endpoint overlay pages drain, and
//     an admin listener with /healthz, /readyz, /status and /metrics.
//   - Supervises the primary feed (YouTube, Twitch or the placeholder) and the
//     side channel, reconnecting after failures.
//
// Shutdown is graceful on SIGINT/SIGTERM; stragglers are logged after a
// bounded join.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/server"
	"github.com/onnwee/chat-relay/shutdown"
	"github.com/onnwee/chat-relay/streamlabs"
	"github.com/onnwee/chat-relay/telemetry"
)

const (
	serviceName    = "chat-relay"
	serviceVersion = "1.0.0"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	if err := newRootCmd(run).Execute(); err != nil {
		slog.Error("relay exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures slog (level + format) on stderr; stdout carries
// the event stream. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

type cliFlags struct {
	configPath      string
	stream          string
	interval        time.Duration
	httpEndpoint    string
	httpPathPrefix  string
	streamlabsToken string
	platform        string
}

// newRootCmd builds the CLI; runFn receives the validated config.
func newRootCmd(runFn func(*config.Config) error) *cobra.Command {
	var f cliFlags
	cmd := &cobra.Command{
		Use:   serviceName + " [stream]",
		Short: "Relay live-stream chat and alerts as JSON lines and an HTTP long-poll feed",
		Long: `chat-relay connects to a live stream's chat (YouTube or Twitch) and, optionally,
the Streamlabs Socket API, and writes every normalized event as one JSON line
on stdout. With --http-endpoint set, the same events can be drained by
polling GET {prefix} or {prefix}/events.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f, args)
			if err != nil {
				return err
			}
			return runFn(cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", os.Getenv("RELAY_CONFIG"), "YAML config file (env: RELAY_CONFIG)")
	fl.StringVar(&f.stream, "stream", "", "stream identifier: YouTube video id or URL, or Twitch channel")
	fl.StringVar(&f.platform, "platform", "", "primary feed: youtube, twitch or placeholder")
	fl.DurationVar(&f.interval, "interval", 0, "primary feed poll interval")
	fl.StringVar(&f.httpEndpoint, "http-endpoint", "", "host:port for the long-poll endpoint (empty disables it)")
	fl.StringVar(&f.httpPathPrefix, "http-path-prefix", "", "path prefix of the long-poll endpoint")
	fl.StringVar(&f.streamlabsToken, "streamlabs-token", "", "Streamlabs socket API token (empty disables the side channel)")
	return cmd
}

// loadConfig layers flags (only those set) and the positional stream over
// config.Load, then validates.
func loadConfig(cmd *cobra.Command, f cliFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	changed := cmd.Flags().Changed
	if len(args) == 1 {
		cfg.StreamID = args[0]
	}
	if changed("stream") {
		cfg.StreamID = f.stream
	}
	if changed("platform") {
		cfg.FeedPlatform = strings.ToLower(strings.TrimSpace(f.platform))
	}
	if changed("interval") {
		cfg.PollInterval = f.interval
	}
	if changed("http-endpoint") {
		cfg.HTTPEndpoint = f.httpEndpoint
	}
	if changed("http-path-prefix") {
		cfg.HTTPPathPrefix = f.httpPathPrefix
	}
	if changed("streamlabs-token") {
		cfg.StreamlabsToken = f.streamlabsToken
	}
	if cfg.FeedPlatform == config.PlatformTwitch && cfg.StreamID == "" {
		cfg.StreamID = cfg.TwitchChannel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run wires the relay and blocks until it stops. It returns the listener's
// error when the relay stopped because of an unrecoverable failure.
func run(cfg *config.Config) error {
	telemetry.Init()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	stop := shutdown.New(sigCtx)
	r := relay.New(relay.Options{
		Platform:      relayPlatform(cfg),
		QueueCapacity: cfg.QueueCapacity,
		Output:        os.Stdout,
		Stop:          stop,
	})
	slog.Info("relay starting", slog.String("relay_id", r.ID()), slog.String("platform", cfg.FeedPlatform))

	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingOptions{
		Service:     serviceName,
		Version:     serviceVersion,
		Endpoint:    cfg.OTLPEndpoint,
		InstanceID:  r.ID(),
		SampleRatio: cfg.OTLPSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	startPollServer(r, cfg)

	feed, identifier := selectFeed(stop.Context(), r, cfg)
	sup := listener.NewSupervisor(r, feed, listener.Config{
		Identifier:     identifier,
		PollInterval:   cfg.PollInterval,
		Backoff:        cfg.ReconnectBackoff,
		ConnectTimeout: cfg.ConnectTimeout,
	})

	sideChannel := startSideChannel(r, cfg)
	startAdminServer(r, cfg, sup, feed, identifier, sideChannel)

	listenerErr := make(chan error, 1)
	stop.Go("listener", func(context.Context) {
		listenerErr <- sup.Run()
	})

	<-stop.Done()
	slog.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	if stragglers := stop.Join(cfg.ShutdownTimeout); len(stragglers) > 0 {
		slog.Warn("goroutines still running after shutdown timeout", slog.Any("names", stragglers))
	}

	select {
	case err := <-listenerErr:
		return err
	default:
		return nil
	}
}

// relayPlatform is the platform the normalizer serves; the standalone
// placeholder accepts side-channel alerts for any platform.
func relayPlatform(cfg *config.Config) string {
	if cfg.FeedPlatform == config.PlatformPlaceholder {
		return ""
	}
	return cfg.FeedPlatform
}

// startPollServer brings up the long-poll endpoint. Failures are reported as
// error events and leave the HTTP sink disabled; the relay keeps running.
func startPollServer(r *relay.Relay, cfg *config.Config) {
	if !cfg.HTTPEnabled() {
		return
	}
	srv, err := server.NewPollServer(r, server.PollOptions{
		Endpoint:   cfg.HTTPEndpoint,
		PathPrefix: cfg.HTTPPathPrefix,
		CORS: server.CORSConfig{
			Permissive:     cfg.CORSPermissive,
			AllowedOrigins: cfg.CORSAllowedOrigins,
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		r.Error("Invalid HTTP endpoint", map[string]any{"endpoint": cfg.HTTPEndpoint, "error": err.Error()})
		return
	}
	if err := srv.Start(); err != nil {
		r.Error("Failed to start HTTP endpoint", map[string]any{"endpoint": cfg.HTTPEndpoint, "error": err.Error()})
	}
}

// startSideChannel launches the Streamlabs loop when a token is configured.
func startSideChannel(r *relay.Relay, cfg *config.Config) bool {
	if !cfg.SideChannelEnabled() {
		slog.Info("side channel disabled (no streamlabs token)")
		return false
	}
	client, err := streamlabs.New(streamlabs.Config{
		Token:            cfg.StreamlabsToken,
		URL:              cfg.StreamlabsURL,
		HandshakeTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		r.Error("Failed to configure Streamlabs Socket API", map[string]any{"error": err.Error()})
		return false
	}
	sc := listener.NewSideChannel(r, client, listener.SideChannelConfig{
		MaxRetries: cfg.SideChannelMaxRetries,
		Cooldown:   cfg.SideChannelCooldown,
	})
	r.Stop().Go("side-channel", sc.Run)
	return true
}

func startAdminServer(r *relay.Relay, cfg *config.Config, sup *listener.Supervisor, feed listener.Feed, identifier string, sideChannel bool) {
	if cfg.AdminAddr == "" {
		return
	}
	srv := server.NewAdminServer(r, server.AdminOptions{
		Addr: cfg.AdminAddr,
		Auth: server.AuthConfig{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
			Token:    cfg.AdminToken,
		},
		Ready: func() error {
			if st := sup.State(); st != listener.StateStreaming {
				return fmt.Errorf("listener %s", st)
			}
			return nil
		},
		Status: func() map[string]any {
			return map[string]any{
				"feed":             feed.Name(),
				"listenerState":    sup.State().String(),
				"streamIdentifier": identifier,
				"sideChannel":      sideChannel,
			}
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err := srv.Start(); err != nil {
		slog.Error("admin server failed to start", slog.Any("err", err), slog.String("addr", cfg.AdminAddr))
		return
	}
	slog.Info("admin server listening", slog.String("addr", srv.Addr()))
}

// logFallback reports a degraded primary feed as a warning event.
func logFallback(r *relay.Relay, platform string, err error) {
	r.Log(event.LevelWarning, "Chat capability unavailable; using placeholder feed", map[string]any{
		"platform": platform,
		"error":    err.Error(),
	})
}
