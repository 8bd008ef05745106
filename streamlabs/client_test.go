package streamlabs

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
	"github.com/onnwee/chat-relay/testutil"
)

func connect(t *testing.T, m *testutil.MockStreamlabsServer, token string) listener.Subscription {
	t.Helper()
	c, err := New(Config{Token: token, URL: m.URL, HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	select {
	case <-m.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never completed the handshake")
	}
	return sub
}

func next(t *testing.T, sub listener.Subscription) ([]event.Raw, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.Next(ctx)
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("New() error = %v, want ErrNotConfigured", err)
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base       string
		wantScheme string
		wantPath   string
		wantErr    bool
	}{
		{base: "", wantScheme: "wss", wantPath: "/socket.io/"},
		{base: "http://127.0.0.1:9000", wantScheme: "ws", wantPath: "/socket.io/"},
		{base: "wss://proxy.example/custom/", wantScheme: "wss", wantPath: "/custom/"},
		{base: "ftp://nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			c, err := New(Config{Token: "tok en", URL: tt.base})
			if err != nil {
				t.Fatal(err)
			}
			raw, err := c.socketURL()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("socketURL() = %q, want error", raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("socketURL() error: %v", err)
			}
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatal(err)
			}
			if u.Scheme != tt.wantScheme || u.Path != tt.wantPath {
				t.Errorf("socketURL() = %q", raw)
			}
			q := u.Query()
			if q.Get("token") != "tok en" || q.Get("EIO") != "3" || q.Get("transport") != "websocket" {
				t.Errorf("query = %v", q)
			}
		})
	}
}

func TestClientDeliversAlerts(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	sub := connect(t, m, "secret")

	err := m.Emit(map[string]any{
		"type": "donation",
		"for":  "streamlabs",
		"message": []any{
			map[string]any{"name": "Ann", "amount": "5.00", "currency": "USD"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	raws, err := next(t, sub)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(raws) != 1 || raws[0].Tag != event.TagDonation || raws[0].Fields["name"] != "Ann" {
		t.Fatalf("Next() = %+v", raws)
	}
	if raws[0].Received.IsZero() {
		t.Error("received time not stamped")
	}
}

func TestClientSkipsUnmappedAlerts(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	sub := connect(t, m, "secret")

	if err := m.Emit(map[string]any{"type": "raid", "message": []any{map[string]any{"name": "x"}}}); err != nil {
		t.Fatal(err)
	}
	if err := m.SendRaw(`42["streamlabels",{"type":"donation"}]`); err != nil {
		t.Fatal(err)
	}
	if err := m.Emit(map[string]any{"type": "follow", "message": []any{map[string]any{"name": "Bo"}}}); err != nil {
		t.Fatal(err)
	}
	raws, err := next(t, sub)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if len(raws) != 1 || raws[0].Tag != event.TagFollow {
		t.Fatalf("Next() = %+v, want the follow alert", raws)
	}
}

func TestClientPayloadErrorKeepsSubscription(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	sub := connect(t, m, "secret")

	if err := m.SendRaw(`42["event",{"type":`); err != nil {
		t.Fatal(err)
	}
	_, err := next(t, sub)
	var perr *listener.PayloadError
	if !errors.As(err, &perr) {
		t.Fatalf("Next() error = %v, want PayloadError", err)
	}

	if err := m.Emit(map[string]any{"type": "follow", "message": []any{map[string]any{"name": "Cy"}}}); err != nil {
		t.Fatal(err)
	}
	raws, err := next(t, sub)
	if err != nil || len(raws) != 1 {
		t.Fatalf("subscription unusable after bad payload: %v %v", raws, err)
	}
}

func TestClientServerDisconnect(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	sub := connect(t, m, "secret")

	if err := m.SendRaw("41"); err != nil {
		t.Fatal(err)
	}
	_, err := next(t, sub)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Next() error = %v, want ErrClosed", err)
	}
	if listener.IsFatal(err) {
		t.Error("server disconnect must be retryable")
	}
}

func TestClientRejectedTokenIsFatal(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	c, err := New(Config{Token: "wrong", URL: m.URL, HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Connect(context.Background())
	if !errors.Is(err, ErrRejected) || !listener.IsFatal(err) {
		t.Fatalf("Connect() error = %v, want fatal ErrRejected", err)
	}
}

func TestClientUnauthorizedUpgradeIsFatal(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	m.RejectStatus = http.StatusUnauthorized
	c, err := New(Config{Token: "secret", URL: m.URL, HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Connect(context.Background())
	if err == nil || !listener.IsFatal(err) {
		t.Fatalf("Connect() error = %v, want fatal", err)
	}
}

func TestClientServerErrorIsRetryable(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	m.RejectStatus = http.StatusBadGateway
	c, err := New(Config{Token: "secret", URL: m.URL, HandshakeTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Connect(context.Background())
	if err == nil || listener.IsFatal(err) {
		t.Fatalf("Connect() error = %v, want retryable", err)
	}
}

func TestSubscriptionNextHonoursContext(t *testing.T) {
	m := testutil.NewMockStreamlabsServer(t, "secret")
	sub := connect(t, m, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next() error = %v, want deadline", err)
	}
	if err := sub.Close(); err != nil {
		t.Logf("Close() = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}
