// Package event defines the unified record every relay sink consumes and the
// normalizer that maps raw collaborator payloads onto it.
//
// An Event is immutable: it is produced in one step by New (or by the
// Normalizer) and only exposes accessors afterwards. Maps handed to New are
// copied, and accessors return copies, so no consumer can change a record
// another sink is holding.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Kind tags an Event. Exactly one kind per record.
type Kind string

const (
	KindChat       Kind = "chat"
	KindSubscriber Kind = "subscriber"
	KindDonation   Kind = "donation"
	KindLog        Kind = "log"
	KindError      Kind = "error"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindSubscriber, KindDonation, KindLog, KindError:
		return true
	}
	return false
}

// Log levels used by log and error events.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// TimeLayout is the wire encoding of Event timestamps: UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

var (
	// ErrInvalidKind is returned when an event is built with an unknown kind.
	ErrInvalidKind = errors.New("invalid event kind")
	// ErrMissingAuthor is returned for chat/subscriber/donation events without an author.
	ErrMissingAuthor = errors.New("event author required")
	// ErrMissingMessage is returned for chat events without text.
	ErrMissingMessage = errors.New("chat message required")
)

// reserved holds the wire keys owned by typed fields; Extra may not shadow them.
var reserved = map[string]struct{}{
	"type": {}, "timestamp": {}, "level": {}, "author": {}, "message": {},
	"platform": {}, "channelId": {}, "messageId": {}, "totalSubscribers": {},
	"amount": {}, "currency": {}, "formattedAmount": {}, "raw": {},
}

// Fields is the construction input for New. It is copied, never retained.
type Fields struct {
	Author           string
	Message          string
	Platform         string
	ChannelID        ID
	MessageID        ID
	TotalSubscribers *int64
	Amount           *float64
	Currency         string
	FormattedAmount  string
	Level            string
	Raw              map[string]any
	Extra            map[string]any
}

// Event is one normalized chat message, subscription, donation, log or error.
type Event struct {
	kind             Kind
	timestamp        time.Time
	author           string
	message          string
	platform         string
	channelID        ID
	messageID        ID
	totalSubscribers *int64
	amount           *float64
	currency         string
	formattedAmount  string
	level            string
	raw              map[string]any
	extra            map[string]any
}

// New validates f against kind and returns the immutable Event.
func New(kind Kind, ts time.Time, f Fields) (Event, error) {
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	ev := Event{
		kind:            kind,
		timestamp:       ts.UTC().Truncate(time.Second),
		message:         f.Message,
		platform:        f.Platform,
		channelID:       f.ChannelID,
		messageID:       f.MessageID,
		currency:        f.Currency,
		formattedAmount: f.FormattedAmount,
		raw:             cloneMap(f.Raw),
	}
	switch kind {
	case KindChat, KindSubscriber, KindDonation:
		if f.Author == "" {
			return Event{}, fmt.Errorf("%w for %s event", ErrMissingAuthor, kind)
		}
		ev.author = f.Author
		if kind == KindChat && f.Message == "" {
			return Event{}, ErrMissingMessage
		}
		ev.level = f.Level
	case KindLog:
		ev.level = f.Level
		if ev.level == "" {
			ev.level = LevelInfo
		}
	case KindError:
		ev.level = LevelError
	}
	if kind == KindSubscriber && f.TotalSubscribers != nil {
		n := *f.TotalSubscribers
		ev.totalSubscribers = &n
	}
	if kind == KindDonation && f.Amount != nil {
		a := *f.Amount
		ev.amount = &a
	}
	if len(f.Extra) > 0 {
		ev.extra = make(map[string]any, len(f.Extra))
		for k, v := range f.Extra {
			if _, taken := reserved[k]; taken {
				continue
			}
			ev.extra[k] = cloneValue(v)
		}
	}
	return ev, nil
}

// NewLog builds a log event. It cannot fail.
func NewLog(ts time.Time, level, message string, extra map[string]any) Event {
	ev, _ := New(KindLog, ts, Fields{Level: level, Message: message, Platform: "relay", Extra: extra})
	return ev
}

// NewError builds an error event (level is always "error"). It cannot fail.
func NewError(ts time.Time, message string, extra map[string]any) Event {
	ev, _ := New(KindError, ts, Fields{Message: message, Platform: "relay", Extra: extra})
	return ev
}

func (e Event) Kind() Kind              { return e.kind }
func (e Event) Timestamp() time.Time    { return e.timestamp }
func (e Event) Author() string          { return e.author }
func (e Event) Message() string         { return e.message }
func (e Event) Platform() string        { return e.platform }
func (e Event) ChannelID() ID           { return e.channelID }
func (e Event) MessageID() ID           { return e.messageID }
func (e Event) Currency() string        { return e.currency }
func (e Event) FormattedAmount() string { return e.formattedAmount }
func (e Event) Level() string           { return e.level }

// Raw returns a deep copy of the source payload, nil when none was kept.
func (e Event) Raw() map[string]any { return cloneMap(e.raw) }

// Extra returns a deep copy of the free-form attributes.
func (e Event) Extra() map[string]any { return cloneMap(e.extra) }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the nested containers JSON decoding produces.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Attr looks up a single extra attribute.
func (e Event) Attr(key string) (any, bool) {
	v, ok := e.extra[key]
	return v, ok
}

// TotalSubscribers returns the subscriber count when the source supplied one.
func (e Event) TotalSubscribers() (int64, bool) {
	if e.totalSubscribers == nil {
		return 0, false
	}
	return *e.totalSubscribers, true
}

// Amount returns the donation amount when the source supplied one.
func (e Event) Amount() (float64, bool) {
	if e.amount == nil {
		return 0, false
	}
	return *e.amount, true
}

type wire struct {
	Type             Kind           `json:"type"`
	Timestamp        string         `json:"timestamp"`
	Level            string         `json:"level,omitempty"`
	Author           string         `json:"author,omitempty"`
	Message          string         `json:"message,omitempty"`
	Platform         string         `json:"platform,omitempty"`
	ChannelID        *ID            `json:"channelId,omitempty"`
	MessageID        *ID            `json:"messageId,omitempty"`
	TotalSubscribers *int64         `json:"totalSubscribers,omitempty"`
	Amount           *float64       `json:"amount,omitempty"`
	Currency         string         `json:"currency,omitempty"`
	FormattedAmount  string         `json:"formattedAmount,omitempty"`
	Raw              map[string]any `json:"raw,omitempty"`
}

// MarshalJSON writes the typed fields first and flattens Extra after them.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wire{
		Type:             e.kind,
		Timestamp:        e.timestamp.UTC().Format(TimeLayout),
		Level:            e.level,
		Author:           e.author,
		Message:          e.message,
		Platform:         e.platform,
		TotalSubscribers: e.totalSubscribers,
		Amount:           e.amount,
		Currency:         e.currency,
		FormattedAmount:  e.formattedAmount,
		Raw:              e.raw,
	}
	if !e.channelID.IsZero() {
		id := e.channelID
		w.ChannelID = &id
	}
	if !e.messageID.IsZero() {
		id := e.messageID
		w.MessageID = &id
	}
	head, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(e.extra) == 0 {
		return head, nil
	}
	tail, err := json.Marshal(e.extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra attributes: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(head) + len(tail))
	buf.Write(head[:len(head)-1])
	buf.WriteByte(',')
	buf.Write(tail[1:])
	return buf.Bytes(), nil
}

// Parse decodes one serialized record. Keys without a typed field land in Extra.
func Parse(data []byte) (Event, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event fields: %w", err)
	}
	ts, err := time.Parse(TimeLayout, w.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("decode event timestamp: %w", err)
	}
	f := Fields{
		Author:           w.Author,
		Message:          w.Message,
		Platform:         w.Platform,
		TotalSubscribers: w.TotalSubscribers,
		Amount:           w.Amount,
		Currency:         w.Currency,
		FormattedAmount:  w.FormattedAmount,
		Level:            w.Level,
		Raw:              w.Raw,
	}
	if w.ChannelID != nil {
		f.ChannelID = *w.ChannelID
	}
	if w.MessageID != nil {
		f.MessageID = *w.MessageID
	}
	for k, v := range obj {
		if _, taken := reserved[k]; taken {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return Event{}, fmt.Errorf("decode attribute %q: %w", k, err)
		}
		if f.Extra == nil {
			f.Extra = make(map[string]any)
		}
		f.Extra[k] = val
	}
	return New(w.Type, ts, f)
}
