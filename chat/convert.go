package chat

import (
	"strconv"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-relay/event"
)

// noticeTags maps USERNOTICE msg-id values to normalizer tags.
var noticeTags = map[string]event.Tag{
	"sub":                 event.TagSubscription,
	"resub":               event.TagResubscription,
	"subgift":             event.TagSubscription,
	"submysterygift":      event.TagMassSubscription,
	"giftpaidupgrade":     event.TagSubscription,
	"anongiftpaidupgrade": event.TagSubscription,
	"primepaidupgrade":    event.TagSubscription,
}

// noticeCountParams lists, per msg-id, the msg-param carrying the gift count.
var noticeCountParams = map[string]string{
	"submysterygift": "msg-param-mass-gift-count",
}

func displayName(u twitch.User) string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	return u.Name
}

func stamp(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback.UTC()
	}
	return t.UTC()
}

// privateMessageRaw maps a PRIVMSG to a chat line, or to a bits donation
// when the message carries cheers.
func privateMessageRaw(m twitch.PrivateMessage, now time.Time) event.Raw {
	fields := map[string]any{
		event.FieldAuthor:    displayName(m.User),
		event.FieldMessage:   m.Message,
		event.FieldChannelID: m.User.ID,
		event.FieldMessageID: m.ID,
	}
	tag := event.TagChat
	if m.Bits > 0 {
		tag = event.TagBits
		fields[event.FieldAmount] = m.Bits
		fields[event.FieldFormattedAmount] = strconv.Itoa(m.Bits) + " bits"
	}
	payload := map[string]any{
		"type":    m.RawType,
		"id":      m.ID,
		"channel": m.Channel,
		"roomId":  m.RoomID,
		"user":    userPayload(m.User),
		"message": m.Message,
		"tags":    tagsPayload(m.Tags),
	}
	if m.Bits > 0 {
		payload["bits"] = m.Bits
	}
	return event.Raw{
		Tag:      tag,
		Source:   event.SourcePrimary,
		Platform: platform,
		Fields:   fields,
		Payload:  payload,
		Received: stamp(m.Time, now),
	}
}

// userNoticeRaw maps subscription USERNOTICEs. Other notices report false.
func userNoticeRaw(m twitch.UserNoticeMessage, now time.Time) (event.Raw, bool) {
	tag, ok := noticeTags[m.MsgID]
	if !ok {
		return event.Raw{}, false
	}
	msg := strings.TrimSpace(m.Message)
	if msg == "" {
		msg = m.SystemMsg
	}
	fields := map[string]any{
		event.FieldAuthor:    displayName(m.User),
		event.FieldMessage:   msg,
		event.FieldChannelID: m.User.ID,
		event.FieldMessageID: m.ID,
	}
	if param, ok := noticeCountParams[m.MsgID]; ok {
		if n, err := strconv.ParseInt(m.MsgParams[param], 10, 64); err == nil {
			fields[event.FieldCount] = n
		}
	}
	params := make(map[string]any, len(m.MsgParams))
	for k, v := range m.MsgParams {
		params[k] = v
	}
	return event.Raw{
		Tag:      tag,
		Source:   event.SourcePrimary,
		Platform: platform,
		Fields:   fields,
		Payload: map[string]any{
			"type":      m.RawType,
			"id":        m.ID,
			"channel":   m.Channel,
			"roomId":    m.RoomID,
			"user":      userPayload(m.User),
			"message":   m.Message,
			"msgId":     m.MsgID,
			"msgParams": params,
			"systemMsg": m.SystemMsg,
			"tags":      tagsPayload(m.Tags),
		},
		Received: stamp(m.Time, now),
	}, true
}

func userPayload(u twitch.User) map[string]any {
	badges := make(map[string]any, len(u.Badges))
	for k, v := range u.Badges {
		badges[k] = v
	}
	return map[string]any{
		"id":          u.ID,
		"name":        u.Name,
		"displayName": u.DisplayName,
		"color":       u.Color,
		"badges":      badges,
	}
}

func tagsPayload(tags map[string]string) map[string]any {
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
