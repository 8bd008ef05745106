package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/chat-relay/chat"
	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/twitchapi"
	"github.com/onnwee/chat-relay/youtubeapi"
)

// feedBuilders construct the primary feed per platform. Replaced in tests.
var feedBuilders = map[string]func(context.Context, *config.Config) (listener.Feed, error){
	config.PlatformYouTube: func(ctx context.Context, cfg *config.Config) (listener.Feed, error) {
		return youtubeapi.New(ctx, cfg)
	},
	config.PlatformTwitch: func(_ context.Context, cfg *config.Config) (listener.Feed, error) {
		return newTwitchFeed(cfg)
	},
}

// selectFeed picks the primary feed and its stream identifier. Missing
// credentials, or a platform client that cannot be used at all, degrade to
// the placeholder feed.
func selectFeed(ctx context.Context, r *relay.Relay, cfg *config.Config) (listener.Feed, string) {
	identifier := cfg.StreamID
	if cfg.FeedPlatform == config.PlatformYouTube {
		identifier = event.StreamIdentifier(cfg.StreamID)
	}
	placeholder := listener.NewPlaceholder(cfg.PlaceholderInterval)

	build, ok := feedBuilders[cfg.FeedPlatform]
	if !ok {
		return placeholder, identifier
	}
	if err := cfg.ValidateChatReady(); err != nil {
		logFallback(r, cfg.FeedPlatform, err)
		return placeholder, identifier
	}
	feed, err := build(ctx, cfg)
	if err != nil {
		if !errors.Is(err, listener.ErrCapabilityUnavailable) {
			slog.Warn("feed construction failed", slog.Any("err", err), slog.String("platform", cfg.FeedPlatform))
		}
		logFallback(r, cfg.FeedPlatform, err)
		return placeholder, identifier
	}
	slog.Info("primary feed selected", slog.String("feed", feed.Name()), slog.String("stream", identifier))
	return feed, identifier
}

// newTwitchFeed wires the IRC feed with the Helix liveness check (when app
// credentials are set) and bot token validation.
func newTwitchFeed(cfg *config.Config) (listener.Feed, error) {
	opts := chat.Options{
		Username:  cfg.TwitchBotUsername,
		Token:     cfg.TwitchOAuthToken,
		Validator: &twitchapi.Validator{},
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		opts.Live = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
			},
			ClientID: cfg.TwitchClientID,
		}
	}
	return chat.New(opts)
}
