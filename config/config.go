// Package config loads the relay settings from an optional YAML file and the
// environment, applies defaults and validates the result. Environment
// variables always win over the file so deployments can override secrets.
// For platform credentials, use ValidateChatReady.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed platforms understood by FeedPlatform.
const (
	PlatformYouTube     = "youtube"
	PlatformTwitch      = "twitch"
	PlatformPlaceholder = "placeholder"
)

// Defaults.
const (
	DefaultQueueCapacity       = 10000
	DefaultPathPrefix          = "/"
	DefaultPollInterval        = time.Second
	DefaultReconnectBackoff    = 10 * time.Second
	DefaultPlaceholderInterval = 5 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultConnectTimeout      = 30 * time.Second
	DefaultSideChannelRetries  = 3
)

type Config struct {
	// Relay
	StreamID      string `yaml:"stream_id"`
	FeedPlatform  string `yaml:"feed_platform"`
	QueueCapacity int    `yaml:"queue_capacity"`

	// Long-poll HTTP sink; empty endpoint disables it.
	HTTPEndpoint       string   `yaml:"http_endpoint"`
	HTTPPathPrefix     string   `yaml:"http_path_prefix"`
	CORSPermissive     bool     `yaml:"cors_permissive"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Supervisor timing
	PollInterval        time.Duration `yaml:"poll_interval"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	PlaceholderInterval time.Duration `yaml:"placeholder_interval"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`

	// Streamlabs side channel; empty token disables it.
	StreamlabsToken       string        `yaml:"streamlabs_socket_token"`
	StreamlabsURL         string        `yaml:"streamlabs_url"`
	SideChannelMaxRetries int           `yaml:"side_channel_max_retries"`
	SideChannelCooldown   time.Duration `yaml:"side_channel_cooldown"`

	// YouTube Data API: an API key or an OAuth refresh token.
	YTAPIKey       string `yaml:"yt_api_key"`
	YTClientID     string `yaml:"yt_client_id"`
	YTClientSecret string `yaml:"yt_client_secret"`
	YTRefreshToken string `yaml:"yt_refresh_token"`
	// YTEndpoint overrides the API base URL (tests, proxies).
	YTEndpoint string `yaml:"yt_endpoint"`

	// Twitch
	TwitchChannel      string `yaml:"twitch_channel"`
	TwitchBotUsername  string `yaml:"twitch_bot_username"`
	TwitchOAuthToken   string `yaml:"twitch_oauth_token"`
	TwitchClientID     string `yaml:"twitch_client_id"`
	TwitchClientSecret string `yaml:"twitch_client_secret"`

	// Admin server (health, readiness, status, metrics); empty addr disables it.
	AdminAddr     string `yaml:"admin_addr"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
	AdminToken    string `yaml:"admin_token"`

	// Tracing; empty disables the OTLP exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// OTLPSampleRatio samples that share of traces; 0 or >= 1 samples all.
	OTLPSampleRatio float64 `yaml:"otlp_sample_ratio"`
}

// Defaults returns a Config populated with default values only.
func Defaults() *Config {
	return &Config{
		FeedPlatform:          PlatformYouTube,
		QueueCapacity:         DefaultQueueCapacity,
		HTTPPathPrefix:        DefaultPathPrefix,
		PollInterval:          DefaultPollInterval,
		ReconnectBackoff:      DefaultReconnectBackoff,
		ConnectTimeout:        DefaultConnectTimeout,
		PlaceholderInterval:   DefaultPlaceholderInterval,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SideChannelMaxRetries: DefaultSideChannelRetries,
		SideChannelCooldown:   DefaultReconnectBackoff,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. It doesn't fail if platform
// credentials are missing; those only disable or degrade features.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.FeedPlatform = strings.ToLower(strings.TrimSpace(cfg.FeedPlatform))
	if cfg.StreamID == "" && cfg.FeedPlatform == PlatformTwitch {
		cfg.StreamID = cfg.TwitchChannel
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	setString(&c.StreamID, "STREAM_ID")
	setString(&c.FeedPlatform, "FEED_PLATFORM")
	errs = append(errs, setInt(&c.QueueCapacity, "QUEUE_CAPACITY"))

	setString(&c.HTTPEndpoint, "HTTP_ENDPOINT")
	setString(&c.HTTPPathPrefix, "HTTP_PATH_PREFIX")
	errs = append(errs, setBool(&c.CORSPermissive, "CORS_PERMISSIVE"))
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}

	errs = append(errs,
		setDuration(&c.PollInterval, "POLL_INTERVAL"),
		setDuration(&c.ReconnectBackoff, "RECONNECT_BACKOFF"),
		setDuration(&c.ConnectTimeout, "CONNECT_TIMEOUT"),
		setDuration(&c.PlaceholderInterval, "PLACEHOLDER_INTERVAL"),
		setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT"),
	)

	setString(&c.StreamlabsToken, "STREAMLABS_SOCKET_TOKEN")
	setString(&c.StreamlabsURL, "STREAMLABS_URL")
	errs = append(errs,
		setInt(&c.SideChannelMaxRetries, "SIDE_CHANNEL_MAX_RETRIES"),
		setDuration(&c.SideChannelCooldown, "SIDE_CHANNEL_COOLDOWN"),
	)

	setString(&c.YTAPIKey, "YT_API_KEY")
	setString(&c.YTClientID, "YT_CLIENT_ID")
	setString(&c.YTClientSecret, "YT_CLIENT_SECRET")
	setString(&c.YTRefreshToken, "YT_REFRESH_TOKEN")
	setString(&c.YTEndpoint, "YT_ENDPOINT")

	setString(&c.TwitchChannel, "TWITCH_CHANNEL")
	setString(&c.TwitchBotUsername, "TWITCH_BOT_USERNAME")
	setString(&c.TwitchOAuthToken, "TWITCH_OAUTH_TOKEN")
	setString(&c.TwitchClientID, "TWITCH_CLIENT_ID")
	setString(&c.TwitchClientSecret, "TWITCH_CLIENT_SECRET")

	setString(&c.AdminAddr, "ADMIN_ADDR")
	setString(&c.AdminUsername, "ADMIN_USERNAME")
	setString(&c.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.AdminToken, "ADMIN_TOKEN")

	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	errs = append(errs, setFloat(&c.OTLPSampleRatio, "OTEL_TRACES_SAMPLER_ARG"))

	return errors.Join(errs...)
}

// Validate checks the relay settings. Platform credentials are checked
// separately, since missing ones degrade to the placeholder feed.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StreamID) == "" {
		errs = append(errs, errors.New("stream identifier is required (--stream or STREAM_ID)"))
	}
	switch c.FeedPlatform {
	case PlatformYouTube, PlatformTwitch, PlatformPlaceholder:
	default:
		errs = append(errs, fmt.Errorf("unsupported FEED_PLATFORM %q (want youtube, twitch or placeholder)", c.FeedPlatform))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity))
	}
	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL":         c.PollInterval,
		"RECONNECT_BACKOFF":     c.ReconnectBackoff,
		"CONNECT_TIMEOUT":       c.ConnectTimeout,
		"PLACEHOLDER_INTERVAL":  c.PlaceholderInterval,
		"SHUTDOWN_TIMEOUT":      c.ShutdownTimeout,
		"SIDE_CHANNEL_COOLDOWN": c.SideChannelCooldown,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SideChannelMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SIDE_CHANNEL_MAX_RETRIES must not be negative, got %d", c.SideChannelMaxRetries))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// ValidateChatReady checks the credentials the configured feed platform
// needs. The error names every missing env key.
func (c *Config) ValidateChatReady() error {
	var missing []string
	need := func(v, key string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	switch c.FeedPlatform {
	case PlatformTwitch:
		// STREAM_ID doubles as the channel.
		if strings.TrimSpace(c.TwitchChannel) == "" {
			need(c.StreamID, "TWITCH_CHANNEL")
		}
		need(c.TwitchBotUsername, "TWITCH_BOT_USERNAME")
		need(c.TwitchOAuthToken, "TWITCH_OAUTH_TOKEN")
		if len(missing) > 0 {
			return fmt.Errorf("missing twitch env: %s", strings.Join(missing, ", "))
		}
	case PlatformYouTube:
		if strings.TrimSpace(c.YTAPIKey) != "" {
			return nil
		}
		need(c.YTClientID, "YT_CLIENT_ID")
		need(c.YTClientSecret, "YT_CLIENT_SECRET")
		need(c.YTRefreshToken, "YT_REFRESH_TOKEN")
		if len(missing) > 0 {
			return fmt.Errorf("missing youtube env: YT_API_KEY or %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

// SideChannelEnabled reports whether a Streamlabs token is configured.
func (c *Config) SideChannelEnabled() bool { return strings.TrimSpace(c.StreamlabsToken) != "" }

// HTTPEnabled reports whether the long-poll sink is configured.
func (c *Config) HTTPEnabled() bool { return strings.TrimSpace(c.HTTPEndpoint) != "" }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s (integer): %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s (number): %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s (boolean): %w", key, err)
	}
	*dst = b
	return nil
}

// setDuration accepts Go durations ("1.5s") or bare seconds ("10").
func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
