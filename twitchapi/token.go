package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// expiryBuffer treats tokens this close to expiry as already expired.
const expiryBuffer = 60 * time.Second

// ErrMissingAppCredentials is returned when no client id/secret is set.
var ErrMissingAppCredentials = errors.New("missing client id/secret for twitch app token")

// TokenSource fetches and caches a Twitch app access (client credentials)
// token for Helix. It cannot join IRC; chat needs the bot's user token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides DefaultTokenURL.
	TokenURL string

	mu    sync.RWMutex
	token *oauth2.Token
}

// Get returns a cached token, fetching a new one when it is missing or
// about to expire.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	tok := ts.token
	ts.mu.RUnlock()
	if usable(tok) {
		return tok.AccessToken, nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if usable(ts.token) {
		return ts.token.AccessToken, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", ErrMissingAppCredentials
	}
	fresh, err := ts.config().Token(ts.withClient(ctx))
	if err != nil {
		return "", fmt.Errorf("twitch app token: %w", err)
	}
	ts.token = fresh
	return fresh.AccessToken, nil
}

// SetToken seeds the cache, e.g. with a token obtained elsewhere.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = &oauth2.Token{AccessToken: token, TokenType: "bearer", Expiry: expiresAt}
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = nil
}

func (ts *TokenSource) config() *clientcredentials.Config {
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

func (ts *TokenSource) withClient(ctx context.Context) context.Context {
	if ts.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
}

func usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || time.Until(tok.Expiry) > expiryBuffer
}
