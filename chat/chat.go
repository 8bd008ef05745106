package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
	"github.com/onnwee/chat-relay/twitchapi"
)

const platform = "twitch"

// ircClient is the part of *twitch.Client the feed drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnUserNoticeMessage(func(twitch.UserNoticeMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TokenValidator checks the bot's user token.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*twitchapi.Validation, error)
}

// Options configures the feed.
type Options struct {
	Username string
	Token    string
	// Live, when set, gates sessions on the channel being live.
	Live LiveChecker
	// LivenessInterval is how often a session re-checks Live. Defaults to 30s.
	LivenessInterval time.Duration
	// Validator, when set, checks Token before every connect.
	Validator TokenValidator
}

// Feed implements listener.Feed for Twitch chat.
type Feed struct {
	username  string
	token     string
	live      LiveChecker
	interval  time.Duration
	validator TokenValidator
	now       func() time.Time
	newClient func(username, token string) ircClient
}

// New returns a feed, or an error wrapping listener.ErrCapabilityUnavailable
// when the bot credentials are missing.
func New(opts Options) (*Feed, error) {
	username := strings.TrimSpace(opts.Username)
	token := strings.TrimSpace(opts.Token)
	if username == "" || token == "" {
		return nil, fmt.Errorf("%w: twitch bot username and oauth token required", listener.ErrCapabilityUnavailable)
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	return &Feed{
		username:  username,
		token:     token,
		live:      opts.Live,
		interval:  opts.LivenessInterval,
		validator: opts.Validator,
		now:       time.Now,
		newClient: func(username, token string) ircClient {
			return twitch.NewClient(username, token)
		},
	}, nil
}

// Name labels the feed in logs.
func (f *Feed) Name() string { return "Twitch" }

// Connect joins the channel and returns once the IRC connection is up.
func (f *Feed) Connect(ctx context.Context, channel string) (listener.Session, error) {
	channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	if channel == "" {
		return nil, listener.Fatal(errors.New("twitch channel empty"))
	}

	if f.validator != nil {
		v, err := f.validator.Validate(ctx, f.token)
		switch {
		case errors.Is(err, twitchapi.ErrInvalidUserToken):
			return nil, listener.Fatal(err)
		case err != nil:
			return nil, fmt.Errorf("validate twitch token: %w", err)
		case !v.CanReadChat():
			return nil, listener.Fatal(fmt.Errorf("twitch token for %q lacks the %s scope", v.Login, twitchapi.ChatReadScope))
		}
	}

	watch := newLiveWatch(f.live, channel, f.interval, f.now)
	if live, err := watch.check(ctx); err == nil && !live {
		return nil, fmt.Errorf("%w: twitch channel %q is offline", listener.ErrEndOfStream, channel)
	} else if err != nil {
		slog.Debug("twitch liveness check failed; joining anyway", slog.String("channel", channel), slog.Any("err", err))
	}

	s := &session{
		client:    f.newClient(f.username, f.token),
		channel:   channel,
		now:       f.now,
		watch:     watch,
		alive:     true,
		connected: make(chan struct{}),
		finished:  make(chan struct{}),
	}
	s.client.OnConnect(s.onConnect)
	s.client.OnPrivateMessage(func(m twitch.PrivateMessage) { s.push(privateMessageRaw(m, s.now())) })
	s.client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) {
		if raw, ok := userNoticeRaw(m, s.now()); ok {
			s.push(raw)
		}
	})
	s.client.Join(channel)
	go s.run()

	select {
	case <-s.connected:
		slog.Debug("twitch irc connected", slog.String("channel", channel))
		return s, nil
	case <-s.finished:
		return nil, s.failure()
	case <-ctx.Done():
		_ = s.Terminate()
		return nil, ctx.Err()
	}
}

type session struct {
	client  ircClient
	channel string
	now     func() time.Time
	watch   *liveWatch

	connectOnce sync.Once
	connected   chan struct{}
	finished    chan struct{}

	mu       sync.Mutex
	buf      []event.Raw
	alive    bool
	err      error
	reported bool
	closed   bool
}

// onConnect also finishes a Terminate that ran before the connection opened,
// when Disconnect could only answer ErrConnectionIsNotOpen.
func (s *session) onConnect() {
	if s.isClosed() {
		go s.disconnect()
		return
	}
	s.connectOnce.Do(func() { close(s.connected) })
}

func (s *session) run() {
	defer close(s.finished)
	if s.isClosed() {
		return
	}
	err := s.client.Connect()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed, errors.Is(err, twitch.ErrClientDisconnected):
		err = nil
	case errors.Is(err, twitch.ErrLoginAuthenticationFailed):
		err = listener.Fatal(err)
	}
	s.err = err
	if err == nil {
		s.alive = false
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) push(raw event.Raw) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, raw)
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("twitch irc: %w", s.err)
	}
	return fmt.Errorf("%w: twitch irc disconnected", listener.ErrEndOfStream)
}

// Alive stays true while buffered messages remain.
func (s *session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive || len(s.buf) > 0
}

// NextBatch hands over buffered messages. A dropped connection is reported
// once the buffer is empty; a channel that went offline ends the session.
func (s *session) NextBatch(ctx context.Context) ([]event.Raw, error) {
	s.mu.Lock()
	raws := s.buf
	s.buf = nil
	if len(raws) == 0 && s.err != nil && !s.reported {
		s.reported = true
		s.alive = false
		err := s.err
		s.mu.Unlock()
		return nil, fmt.Errorf("twitch irc: %w", err)
	}
	s.mu.Unlock()

	if live, err := s.watch.due(ctx); err == nil && !live {
		slog.Info("twitch channel went offline", slog.String("channel", s.channel))
		s.mu.Lock()
		s.alive = false
		s.mu.Unlock()
	}
	return raws, nil
}

func (s *session) Terminate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.alive = false
	s.mu.Unlock()
	return s.disconnect()
}

// disconnect tolerates a connection that is not open yet; onConnect closes
// it once it is.
func (s *session) disconnect() error {
	err := s.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}
