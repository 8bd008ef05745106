// Package streamlabs is a minimal Socket API client for Streamlabs alert
// notifications. It speaks Socket.IO (Engine.IO v3) over a single WebSocket
// and hands decoded alerts to the side-channel loop.
package streamlabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
)

// DefaultURL is the public Streamlabs Socket API.
const DefaultURL = "https://sockets.streamlabs.com"

// ErrNotConfigured is returned by New when no socket token is set.
var ErrNotConfigured = errors.New("streamlabs socket token not configured")

// Config configures the client.
type Config struct {
	Token string
	// URL overrides DefaultURL (tests, proxies).
	URL string
	// HandshakeTimeout bounds the dial and the Socket.IO handshake.
	HandshakeTimeout time.Duration
	// Now stamps received alerts. Defaults to time.Now.
	Now func() time.Time
}

// Client implements listener.Notifier for the Streamlabs Socket API.
type Client struct {
	token   string
	base    string
	timeout time.Duration
	now     func() time.Time
	dialer  *websocket.Dialer
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrNotConfigured
	}
	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		token:   token,
		base:    base,
		timeout: cfg.HandshakeTimeout,
		now:     cfg.Now,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}, nil
}

// Name labels the client in log events.
func (c *Client) Name() string { return "Streamlabs Socket API" }

// socketURL builds the Socket.IO WebSocket endpoint for the token.
func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse streamlabs url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported streamlabs url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("token", c.token)
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the socket and completes the Socket.IO handshake. A rejected
// token is reported as a fatal error so the side-channel loop gives up.
func (c *Client) Connect(ctx context.Context) (listener.Subscription, error) {
	wsURL, err := c.socketURL()
	if err != nil {
		return nil, listener.Fatal(err)
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial streamlabs (status: %d): %w", resp.StatusCode, err)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, listener.Fatal(err)
			}
			return nil, err
		}
		return nil, fmt.Errorf("dial streamlabs: %w", err)
	}

	h, err := c.handshake(conn)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrRejected) {
			return nil, listener.Fatal(err)
		}
		return nil, err
	}
	slog.Debug("streamlabs socket open", slog.String("sid", h.SID), slog.Duration("ping_interval", h.interval()))

	s := &subscription{
		conn:    conn,
		now:     c.now,
		alerts:  make(chan delivery, 64),
		done:    make(chan struct{}),
		idle:    h.interval() + h.timeout(),
		pingGap: h.interval(),
	}
	go s.readPump()
	if s.pingGap > 0 {
		go s.pingPump()
	}
	return s, nil
}

// handshake waits for the Engine.IO open packet and the Socket.IO connect ack.
func (c *Client) handshake(conn *websocket.Conn) (handshake, error) {
	_ = conn.SetReadDeadline(time.Now().Add(c.timeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var h handshake
	opened := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return h, fmt.Errorf("streamlabs handshake: %w", err)
		}
		f, err := parseFrame(string(data))
		if err != nil {
			return h, err
		}
		switch f.kind {
		case frameOpen:
			h, opened = f.handshake, true
		case frameConnect:
			if !opened {
				return h, errors.New("streamlabs connect before open")
			}
			return h, nil
		case framePing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(string(enginePong)+f.pingData)); err != nil {
				return h, fmt.Errorf("streamlabs handshake pong: %w", err)
			}
		}
	}
}

// delivery is one decoded alert batch, or a frame that failed to decode.
type delivery struct {
	raws []event.Raw
	err  error
}

type subscription struct {
	conn *websocket.Conn
	now  func() time.Time

	writeMu sync.Mutex
	alerts  chan delivery
	done    chan struct{}
	once    sync.Once

	errMu sync.Mutex
	err   error

	idle    time.Duration
	pingGap time.Duration
}

// Next returns the next batch of alerts. Decoding failures come back as a
// *listener.PayloadError and leave the subscription usable.
func (s *subscription) Next(ctx context.Context) ([]event.Raw, error) {
	select {
	case d, ok := <-s.alerts:
		if !ok {
			return nil, s.failure()
		}
		if d.err != nil {
			return nil, &listener.PayloadError{Err: d.err}
		}
		return d.raws, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a Socket.IO disconnect and closes the connection.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte{engineMessage, socketDisconnect})
		werr := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		cerr := s.conn.Close()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		} else {
			err = cerr
		}
	})
	return err
}

func (s *subscription) write(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *subscription) readPump() {
	defer close(s.alerts)
	for {
		if s.idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		f, err := parseFrame(string(data))
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrRejected) {
			s.fail(err)
			return
		}
		if err != nil {
			if !s.deliver(delivery{err: err}) {
				return
			}
			continue
		}
		switch f.kind {
		case framePing:
			if err := s.write(string(enginePong) + f.pingData); err != nil {
				s.fail(err)
				return
			}
		case frameEvent:
			if f.name != "event" || f.data == nil {
				continue
			}
			if raws := Decode(f.data, s.now().UTC()); len(raws) > 0 {
				if !s.deliver(delivery{raws: raws}) {
					return
				}
			}
		}
	}
}

// pingPump sends the client heartbeats Engine.IO v3 expects.
func (s *subscription) pingPump() {
	t := time.NewTicker(s.pingGap)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.write(string(enginePing)); err != nil {
				return
			}
		}
	}
}

func (s *subscription) deliver(d delivery) bool {
	select {
	case s.alerts <- d:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *subscription) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		return ErrClosed
	}
	return s.err
}
