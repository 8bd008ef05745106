// Package youtubeapi reads YouTube live chat through the YouTube Data API v3.
// It authenticates with an API key or an OAuth refresh token and exposes the
// chat as a listener.Feed: one Session per broadcast, paged with the API's
// own polling interval.
package youtubeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chat-relay/config"
	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/listener"
)

const platform = "youtube"

// readonlyScope is enough to list live chat messages.
const readonlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// maxResults is the page size requested per poll (API maximum).
const maxResults = 2000

// Feed implements listener.Feed for YouTube live chat.
type Feed struct {
	svc *yt.Service
	now func() time.Time
}

// New builds the API client from cfg. It returns an error wrapping
// listener.ErrCapabilityUnavailable when no credentials are configured.
func New(ctx context.Context, cfg *config.Config) (*Feed, error) {
	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube client: %v", listener.ErrCapabilityUnavailable, err)
	}
	return &Feed{svc: svc, now: time.Now}, nil
}

func clientOptions(ctx context.Context, cfg *config.Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	switch {
	case cfg.YTAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.YTAPIKey))
	case cfg.YTClientID != "" && cfg.YTClientSecret != "" && cfg.YTRefreshToken != "":
		oauth := &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{readonlyScope},
		}
		ts := oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.YTRefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, fmt.Errorf("%w: no youtube credentials (set YT_API_KEY or YT_CLIENT_ID/YT_CLIENT_SECRET/YT_REFRESH_TOKEN)", listener.ErrCapabilityUnavailable)
	}
	if cfg.YTEndpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.YTEndpoint, "/")+"/"))
	}
	return opts, nil
}

// Name labels the feed in logs.
func (f *Feed) Name() string { return "YouTube" }

// Connect resolves the broadcast's active live chat. A video that is not (or
// no longer) live ends the attempt with listener.ErrEndOfStream so the
// supervisor retries after its backoff.
func (f *Feed) Connect(ctx context.Context, videoID string) (listener.Session, error) {
	resp, err := f.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube videos.list: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, listener.Fatal(fmt.Errorf("youtube video %q not found", videoID))
	}
	v := resp.Items[0]
	if v.LiveStreamingDetails == nil || v.LiveStreamingDetails.ActiveLiveChatId == "" {
		return nil, fmt.Errorf("%w: video %q has no active live chat", listener.ErrEndOfStream, videoID)
	}
	s := &session{
		svc:    f.svc,
		now:    f.now,
		chatID: v.LiveStreamingDetails.ActiveLiveChatId,
		alive:  true,
	}
	slog.Debug("youtube live chat resolved", slog.String("video", videoID), slog.String("live_chat_id", s.chatID))
	return s, nil
}

type session struct {
	svc    *yt.Service
	now    func() time.Time
	chatID string

	mu        sync.Mutex
	alive     bool
	pageToken string
	nextPoll  time.Time
}

func (s *session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// NextBatch fetches one page of messages, honouring the polling interval the
// API asked for. Calls made before that interval elapses return nothing.
func (s *session) NextBatch(ctx context.Context) ([]event.Raw, error) {
	s.mu.Lock()
	if !s.alive || s.now().Before(s.nextPoll) {
		s.mu.Unlock()
		return nil, nil
	}
	token := s.pageToken
	s.mu.Unlock()

	call := s.svc.LiveChatMessages.List(s.chatID, []string{"snippet", "authorDetails"}).
		MaxResults(maxResults).
		Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}
	resp, err := call.Do()
	if err != nil {
		if listener.ClassifyError(err) == listener.ErrorClassEndOfStream {
			s.end()
		}
		return nil, fmt.Errorf("youtube liveChatMessages.list: %w", err)
	}

	raws := make([]event.Raw, 0, len(resp.Items))
	ended := resp.OfflineAt != ""
	for _, item := range resp.Items {
		if item.Snippet != nil && item.Snippet.Type == "chatEndedEvent" {
			ended = true
			continue
		}
		if raw, ok := s.toRaw(item); ok {
			raws = append(raws, raw)
		}
	}

	s.mu.Lock()
	s.pageToken = resp.NextPageToken
	s.nextPoll = s.now().Add(time.Duration(resp.PollingIntervalMillis) * time.Millisecond)
	if ended {
		s.alive = false
	}
	s.mu.Unlock()
	return raws, nil
}

func (s *session) Terminate() error {
	s.end()
	return nil
}

func (s *session) end() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// toRaw maps one live chat message to a normalizer payload. Message types
// the relay does not surface (deletions, bans, polls) are skipped.
func (s *session) toRaw(item *yt.LiveChatMessage) (event.Raw, bool) {
	sn := item.Snippet
	if sn == nil {
		return event.Raw{}, false
	}
	fields := map[string]any{
		event.FieldMessageID: item.Id,
	}
	if a := item.AuthorDetails; a != nil {
		fields[event.FieldAuthor] = a.DisplayName
		fields[event.FieldChannelID] = a.ChannelId
	}

	var tag event.Tag
	switch sn.Type {
	case "textMessageEvent":
		tag = event.TagChat
		fields[event.FieldMessage] = sn.DisplayMessage
		if sn.TextMessageDetails != nil && sn.TextMessageDetails.MessageText != "" {
			fields[event.FieldMessage] = sn.TextMessageDetails.MessageText
		}
	case "superChatEvent":
		tag = event.TagSuperChat
		if d := sn.SuperChatDetails; d != nil {
			setAmount(fields, d.AmountMicros, d.Currency, d.AmountDisplayString)
			fields[event.FieldMessage] = d.UserComment
		}
	case "superStickerEvent":
		tag = event.TagSuperChat
		if d := sn.SuperStickerDetails; d != nil {
			setAmount(fields, d.AmountMicros, d.Currency, d.AmountDisplayString)
		}
	case "newSponsorEvent":
		tag = event.TagMembership
	case "memberMilestoneChatEvent":
		tag = event.TagMembership
		if d := sn.MemberMilestoneChatDetails; d != nil {
			fields[event.FieldMessage] = d.UserComment
		}
	case "membershipGiftingEvent":
		tag = event.TagMassSubscription
		if d := sn.MembershipGiftingDetails; d != nil {
			fields[event.FieldCount] = d.GiftMembershipsCount
		}
	default:
		return event.Raw{}, false
	}

	received := s.now()
	if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		received = t
	}
	return event.Raw{
		Tag:      tag,
		Source:   event.SourcePrimary,
		Platform: platform,
		Fields:   fields,
		Payload:  payloadOf(item),
		Received: received,
	}, true
}

func setAmount(fields map[string]any, micros uint64, currency, display string) {
	fields[event.FieldAmount] = float64(micros) / 1e6
	fields[event.FieldCurrency] = currency
	fields[event.FieldFormattedAmount] = display
}

// payloadOf keeps the API message verbatim as a generic map.
func payloadOf(item *yt.LiveChatMessage) map[string]any {
	b, err := json.Marshal(item)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
