package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tag names the collaborator-resolved variant of a raw payload.
type Tag string

const (
	TagChat             Tag = "chat"
	TagSuperChat        Tag = "superchat"
	TagMembership       Tag = "membership"
	TagSubscription     Tag = "subscription"
	TagResubscription   Tag = "resubscription"
	TagMassSubscription Tag = "mass_subscription"
	TagFollow           Tag = "follow"
	TagDonation         Tag = "donation"
	TagBits             Tag = "bits"
	TagHeartbeat        Tag = "heartbeat"
)

// Source tells the normalizer which feed produced a payload.
type Source int

const (
	SourcePrimary Source = iota
	SourceSideChannel
)

func (s Source) String() string {
	if s == SourceSideChannel {
		return "side-channel"
	}
	return "primary"
}

// Raw is a payload handed over by a feed collaborator.
//
// Fields holds the collaborator's view of the payload using the keys below
// (aliases such as name, display_name or channel_id are accepted too).
// Payload, when set, is kept verbatim as the Event's raw attribute.
type Raw struct {
	Tag      Tag
	Source   Source
	Platform string
	// For is the payload-level platform hint of side-channel notifications.
	For      string
	Fields   map[string]any
	Payload  map[string]any
	Received time.Time
}

// Field keys understood by the normalizer.
const (
	FieldAuthor          = "author"
	FieldMessage         = "message"
	FieldChannelID       = "channelId"
	FieldMessageID       = "messageId"
	FieldCount           = "count"
	FieldAmount          = "amount"
	FieldCurrency        = "currency"
	FieldFormattedAmount = "formattedAmount"
	FieldPlatform        = "platform"
)

var (
	// ErrFiltered marks side-channel payloads addressed to another platform.
	ErrFiltered = errors.New("payload addressed to another platform")
	// ErrUnknownTag marks payloads whose tag has no mapping.
	ErrUnknownTag = errors.New("unknown payload tag")
	// ErrMalformed marks payloads that lack a field their tag requires.
	ErrMalformed = errors.New("malformed payload")
)

// PlatformNeutral is the side-channel tag that is never filtered out.
const PlatformNeutral = "streamlabs"

type mapFunc func(n *Normalizer, raw Raw, ts time.Time) (Event, error)

var dispatch = map[Tag]mapFunc{
	TagChat:             mapChat,
	TagSuperChat:        mapDonation,
	TagDonation:         mapDonation,
	TagBits:             mapDonation,
	TagMembership:       mapSubscriber,
	TagSubscription:     mapSubscriber,
	TagResubscription:   mapSubscriber,
	TagMassSubscription: mapSubscriber,
	TagFollow:           mapSubscriber,
	TagHeartbeat:        mapHeartbeat,
}

// Normalizer maps Raw payloads to Events for one served platform.
type Normalizer struct {
	// Platform is the primary platform being relayed, e.g. "youtube".
	Platform string
	// Now stamps payloads that carry no receive time. Defaults to time.Now.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer for the given platform.
func NewNormalizer(platform string) *Normalizer {
	return &Normalizer{Platform: strings.ToLower(platform), Now: time.Now}
}

// Normalize converts raw into an Event. It returns ErrFiltered, ErrUnknownTag
// or an ErrMalformed-wrapped error for payloads that do not produce a record.
func (n *Normalizer) Normalize(raw Raw) (Event, error) {
	fn, ok := dispatch[raw.Tag]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownTag, raw.Tag)
	}
	if n.filtered(raw) {
		return Event{}, ErrFiltered
	}
	ts := raw.Received
	if ts.IsZero() {
		now := n.Now
		if now == nil {
			now = time.Now
		}
		ts = now()
	}
	return fn(n, raw, ts)
}

// Accepts reports whether a side-channel platform hint belongs to the served platform.
func (n *Normalizer) Accepts(hint string) bool {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" || n.Platform == "" || hint == PlatformNeutral {
		return true
	}
	return strings.Contains(hint, n.Platform)
}

func (n *Normalizer) filtered(raw Raw) bool {
	if raw.Source != SourceSideChannel {
		return false
	}
	hint := firstString(raw.Fields, FieldPlatform)
	if hint == "" {
		hint = raw.For
	}
	return !n.Accepts(hint)
}

func (n *Normalizer) platformOf(raw Raw) string {
	if raw.Platform != "" {
		return raw.Platform
	}
	return n.Platform
}

func (n *Normalizer) fallbackAuthor(suffix string) string {
	name := displayName(n.Platform)
	if suffix == "" {
		return name
	}
	return name + " " + suffix
}

func displayName(platform string) string {
	switch strings.ToLower(platform) {
	case "youtube":
		return "YouTube"
	case "twitch":
		return "Twitch"
	case "":
		return "Stream"
	}
	return strings.ToUpper(platform[:1]) + platform[1:]
}

func authorOf(f map[string]any) string {
	return firstString(f, FieldAuthor, "name", "display_name", "from", "username")
}

func idOf(f map[string]any, keys ...string) ID {
	v := firstValue(f, keys...)
	switch id := v.(type) {
	case nil:
		return ID{}
	case string:
		return StringID(strings.TrimSpace(id))
	case ID:
		return id
	}
	if i, ok := SafeInt(v); ok {
		return IntID(i)
	}
	return ID{}
}

func mapChat(n *Normalizer, raw Raw, ts time.Time) (Event, error) {
	msg := firstString(raw.Fields, FieldMessage, "text")
	if msg == "" {
		return Event{}, fmt.Errorf("%w: chat without text", ErrMalformed)
	}
	author := authorOf(raw.Fields)
	if author == "" {
		author = n.fallbackAuthor("")
	}
	return New(KindChat, ts, Fields{
		Author:    author,
		Message:   msg,
		Platform:  n.platformOf(raw),
		ChannelID: idOf(raw.Fields, FieldChannelID, "channel_id"),
		MessageID: idOf(raw.Fields, FieldMessageID, "message_id", "id"),
		Raw:       raw.Payload,
	})
}

func mapSubscriber(n *Normalizer, raw Raw, ts time.Time) (Event, error) {
	author := authorOf(raw.Fields)
	if author == "" {
		author = n.fallbackAuthor("Subscriber")
	}
	f := Fields{
		Author:    author,
		Message:   firstString(raw.Fields, FieldMessage),
		Platform:  n.platformOf(raw),
		ChannelID: idOf(raw.Fields, FieldChannelID, "channel_id"),
		MessageID: idOf(raw.Fields, FieldMessageID, "message_id", "id", "_id"),
		Raw:       raw.Payload,
	}
	if total, ok := SafeInt(firstValue(raw.Fields, FieldCount, FieldAmount)); ok {
		f.TotalSubscribers = &total
	}
	return New(KindSubscriber, ts, f)
}

func mapDonation(n *Normalizer, raw Raw, ts time.Time) (Event, error) {
	author := authorOf(raw.Fields)
	if author == "" {
		author = n.fallbackAuthor("Supporter")
	}
	f := Fields{
		Author:          author,
		Message:         firstString(raw.Fields, FieldMessage),
		Platform:        n.platformOf(raw),
		ChannelID:       idOf(raw.Fields, FieldChannelID, "channel_id"),
		MessageID:       idOf(raw.Fields, FieldMessageID, "message_id", "id", "_id"),
		Currency:        strings.ToUpper(firstString(raw.Fields, FieldCurrency)),
		FormattedAmount: firstString(raw.Fields, FieldFormattedAmount, "formatted_amount", "formattedAmountDisplayString"),
		Raw:             raw.Payload,
	}
	if amount, ok := SafeFloat(firstValue(raw.Fields, FieldAmount, "bits")); ok {
		f.Amount = &amount
	}
	if raw.Tag == TagBits && f.Currency == "" {
		f.Currency = "BITS"
	}
	return New(KindDonation, ts, f)
}

func mapHeartbeat(n *Normalizer, raw Raw, ts time.Time) (Event, error) {
	msg := firstString(raw.Fields, FieldMessage)
	if msg == "" {
		msg = "Heartbeat"
	}
	extra := make(map[string]any, len(raw.Fields))
	for k, v := range raw.Fields {
		if k == FieldMessage {
			continue
		}
		extra[k] = v
	}
	return NewLog(ts, LevelInfo, msg, extra), nil
}
