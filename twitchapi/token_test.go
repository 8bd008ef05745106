package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/testutil"
)

func newAppTokenSource(m *testutil.MockTwitchServer) *TokenSource {
	return &TokenSource{ClientID: "relay-client", ClientSecret: "relay-secret", TokenURL: m.URL + "/oauth2/token"}
}

func TestTokenSourceCachesToken(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	var calls atomic.Int32
	var form map[string]string
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		form = map[string]string{
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"grant_type":    r.PostForm.Get("grant_type"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"app-token","expires_in":3600,"token_type":"bearer"}`))
	}
	ts := newAppTokenSource(m)

	for i := 0; i < 3; i++ {
		tok, err := ts.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if tok != "app-token" {
			t.Fatalf("Get() = %q, want app-token", tok)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint hit %d times, want 1", got)
	}
	if form["client_id"] != "relay-client" || form["client_secret"] != "relay-secret" || form["grant_type"] != "client_credentials" {
		t.Errorf("token request form = %v", form)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Duration
		want   string
	}{
		{name: "inside buffer", expiry: 30 * time.Second, want: "new-token"},
		{name: "already expired", expiry: -time.Minute, want: "new-token"},
		{name: "still valid", expiry: time.Hour, want: "seeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			m.MockOAuthTokenResponse("new-token", 3600)
			ts := newAppTokenSource(m)
			ts.SetToken("seeded", time.Now().Add(tt.expiry))

			tok, err := ts.Get(context.Background())
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if tok != tt.want {
				t.Errorf("Get() = %q, want %q", tok, tt.want)
			}
		})
	}
}

func TestTokenSourceInvalidate(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("fresh", 3600)
	ts := newAppTokenSource(m)
	ts.SetToken("revoked", time.Now().Add(time.Hour))

	ts.Invalidate()
	tok, err := ts.Get(context.Background())
	if err != nil || tok != "fresh" {
		t.Fatalf("Get() after Invalidate = %q, %v", tok, err)
	}
}

func TestTokenSourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		ts      func(*testutil.MockTwitchServer) *TokenSource
	}{
		{
			name: "missing credentials",
			ts:   func(*testutil.MockTwitchServer) *TokenSource { return &TokenSource{} },
		},
		{
			name: "rejected client",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status":400,"message":"invalid client"}`))
			},
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"access_token":"","expires_in":3600}`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			if tt.handler != nil {
				m.Handlers["/oauth2/token"] = tt.handler
			}
			ts := newAppTokenSource(m)
			if tt.ts != nil {
				ts = tt.ts(m)
			}
			tok, err := ts.Get(context.Background())
			if err == nil {
				t.Fatalf("Get() = %q, want error", tok)
			}
			if tt.ts != nil && !errors.Is(err, ErrMissingAppCredentials) {
				t.Errorf("Get() error = %v, want ErrMissingAppCredentials", err)
			}
		})
	}
}

func TestTokenSourceUsesHTTPClient(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("via-client", 3600)
	var used atomic.Bool
	ts := &TokenSource{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     "https://id.twitch.tv/oauth2/token",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			used.Store(true)
			return (&rewriteTransport{Transport: http.DefaultTransport, host: m.URL}).RoundTrip(r)
		})},
	}
	tok, err := ts.Get(context.Background())
	if err != nil || tok != "via-client" {
		t.Fatalf("Get() = %q, %v", tok, err)
	}
	if !used.Load() {
		t.Error("configured HTTP client not used")
	}
}

func TestTokenSourceConcurrentGetFetchesOnce(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	var calls atomic.Int32
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"shared","expires_in":3600}`))
	}
	ts := newAppTokenSource(m)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := ts.Get(context.Background()); err != nil || tok != "shared" {
				t.Errorf("Get() = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint hit %d times, want 1", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
