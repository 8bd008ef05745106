// Package twitchapi contains minimal helpers for the Twitch Helix API: stream
// liveness checks with an app access token and validation of the bot's user
// token before joining chat.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHelixURL is the public Helix API base.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// helixMaxRetries bounds attempts for 429/5xx responses.
const helixMaxRetries = 3

// helixRetryDelay is the base backoff between attempts; tests shorten it.
var helixRetryDelay = 500 * time.Millisecond

// ErrUnauthorized is returned when Helix rejects a freshly minted token.
var ErrUnauthorized = errors.New("twitch helix unauthorized")

// HelixClient provides the Helix calls the chat feed needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides DefaultHelixURL.
	BaseURL string
}

// Stream is the subset of a Helix stream record the relay reads.
type Stream struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	StartedAt string `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) endpoint(path string) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	return strings.TrimRight(base, "/") + path
}

// GetStreams returns the live streams for a login; empty when offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("user_login", login)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// IsLive reports whether the channel is currently broadcasting.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return false, err
	}
	for _, s := range streams {
		if s.Type == "" || s.Type == "live" {
			return true, nil
		}
	}
	return false, nil
}

// get performs an authenticated GET, retrying 429/5xx with backoff and a
// single 401 after refreshing the app token.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	refreshed := false
	for attempt := 1; ; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.endpoint(path)+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}

		status := resp.StatusCode
		if status == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp)

		switch {
		case status == http.StatusUnauthorized && !refreshed:
			slog.Debug("helix token rejected, refreshing", slog.String("path", path))
			hc.AppTokenSource.Invalidate()
			refreshed = true
			continue
		case status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(string(b)))
		case (status == http.StatusTooManyRequests || status >= 500) && attempt < helixMaxRetries:
			delay := helixRetryDelay * time.Duration(attempt)
			slog.Debug("helix request retry", slog.String("path", path), slog.Int("status", status), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return fmt.Errorf("helix %s: %d %s", path, status, strings.TrimSpace(string(b)))
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
