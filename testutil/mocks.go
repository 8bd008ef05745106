// Package testutil provides httptest doubles of the platform APIs the relay
// talks to: YouTube Data API live chat, Twitch Helix and the Streamlabs
// Socket API.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": streams})
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// MockValidateResponse adds a handler for the user token validation endpoint.
// An empty login makes the endpoint reject the token.
func (m *MockTwitchServer) MockValidateResponse(login string, scopes []string) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		if login == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "invalid access token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":  "mock-client",
			"login":      login,
			"scopes":     scopes,
			"user_id":    "1000",
			"expires_in": 3600,
		})
	}
}

// MockYouTubeServer mocks the two YouTube Data API v3 calls the live chat
// reader makes: videos.list and liveChat/messages.list.
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	videos   map[string]string
	pages    []map[string]any
	errCode  int
	errBody  map[string]any
	Requests []*http.Request
}

// NewMockYouTubeServer starts the mock. Point the client at URL + "/".
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{videos: make(map[string]string)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// MockLiveVideo registers a video with an active live chat. An empty chat id
// registers a video that is not live.
func (m *MockYouTubeServer) MockLiveVideo(videoID, liveChatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[videoID] = liveChatID
}

// MockChatPage queues one liveChatMessages.list response. Pages are served in
// order; once exhausted an empty page is returned.
func (m *MockYouTubeServer) MockChatPage(page map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, page)
}

// MockChatError makes liveChatMessages.list fail with a googleapi error.
func (m *MockYouTubeServer) MockChatError(code int, reason, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCode = code
	m.errBody = map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors":  []map[string]any{{"reason": reason, "message": message, "domain": "youtube.liveChat"}},
		},
	}
}

// RequestCount returns how many requests hit path.
func (m *MockYouTubeServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

func (m *MockYouTubeServer) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, r.Clone(r.Context()))

	switch {
	case strings.HasSuffix(r.URL.Path, "/youtube/v3/videos"):
		var items []map[string]any
		for _, id := range strings.Split(r.URL.Query().Get("id"), ",") {
			chatID, ok := m.videos[id]
			if !ok {
				continue
			}
			item := map[string]any{"kind": "youtube#video", "id": id}
			if chatID != "" {
				item["liveStreamingDetails"] = map[string]any{"activeLiveChatId": chatID}
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"kind": "youtube#videoListResponse", "items": items})
	case strings.HasSuffix(r.URL.Path, "/youtube/v3/liveChat/messages"):
		if m.errCode != 0 {
			writeJSON(w, m.errCode, m.errBody)
			return
		}
		page := map[string]any{"kind": "youtube#liveChatMessageListResponse", "pollingIntervalMillis": 0}
		if len(m.pages) > 0 {
			page = m.pages[0]
			m.pages = m.pages[1:]
		}
		writeJSON(w, http.StatusOK, page)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// MockStreamlabsServer is a Socket.IO (Engine.IO v3) WebSocket endpoint
// speaking just enough of the protocol for the Streamlabs client.
type MockStreamlabsServer struct {
	*httptest.Server
	// Token is the only accepted socket token; others get a Socket.IO error.
	Token string
	// RejectStatus, when set, fails the WebSocket upgrade with that status.
	RejectStatus int

	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    []*websocket.Conn
	connects int
	ready    chan struct{}
}

// NewMockStreamlabsServer starts the mock accepting token.
func NewMockStreamlabsServer(t *testing.T, token string) *MockStreamlabsServer {
	t.Helper()
	m := &MockStreamlabsServer{
		Token: token,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ready: make(chan struct{}, 16),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(func() {
		m.CloseConnections()
		m.Close()
	})
	return m
}

// Ready is signalled once per completed client handshake.
func (m *MockStreamlabsServer) Ready() <-chan struct{} { return m.ready }

// Connects returns the number of upgrade attempts seen.
func (m *MockStreamlabsServer) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MockStreamlabsServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.connects++
	reject := m.RejectStatus
	m.mu.Unlock()
	if reject != 0 {
		http.Error(w, http.StatusText(reject), reject)
		return
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"mock-sid","upgrades":[],"pingInterval":25000,"pingTimeout":5000}`))
	if r.URL.Query().Get("token") != m.Token {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`44"Unauthorized"`))
		_ = conn.Close()
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte("40"))

	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	m.ready <- struct{}{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "2" {
			m.mu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte("3"))
			m.mu.Unlock()
		}
	}
}

// Emit sends a Socket.IO "event" packet carrying payload to every client.
func (m *MockStreamlabsServer) Emit(payload map[string]any) error {
	b, err := json.Marshal([]any{"event", payload})
	if err != nil {
		return err
	}
	return m.SendRaw("42" + string(b))
}

// SendRaw writes a raw Engine.IO text frame to every client.
func (m *MockStreamlabsServer) SendRaw(frame string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return err
		}
	}
	return nil
}

// CloseConnections drops every client connection.
func (m *MockStreamlabsServer) CloseConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		_ = c.Close()
	}
	m.conns = nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
