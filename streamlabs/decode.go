package streamlabs

import (
	"strings"
	"time"

	"github.com/onnwee/chat-relay/event"
)

// typeTags maps Streamlabs alert types to normalizer tags. Alert types not
// listed here (host, raid, merch, ...) are ignored.
var typeTags = map[string]event.Tag{
	"donation":          event.TagDonation,
	"follow":            event.TagFollow,
	"subscription":      event.TagSubscription,
	"resub":             event.TagResubscription,
	"resubscription":    event.TagResubscription,
	"mass_subscription": event.TagMassSubscription,
	"submysterygift":    event.TagMassSubscription,
	"bits":              event.TagBits,
	"superchat":         event.TagSuperChat,
	"membership":        event.TagMembership,
	"membershipgift":    event.TagMembership,
}

// Decode turns one Streamlabs "event" payload into raw side-channel entries.
// The message attribute may be a single entry or a list; entries that are not
// objects are skipped, as are alert types with no mapping.
func Decode(payload map[string]any, received time.Time) []event.Raw {
	kind := strings.ToLower(firstString(payload, "type", "event_type"))
	tag, ok := typeTags[kind]
	if !ok {
		return nil
	}
	hint := strings.ToLower(firstString(payload, "for"))

	var entries []any
	switch m := payload["message"].(type) {
	case []any:
		entries = m
	case nil:
	default:
		entries = []any{m}
	}

	out := make([]event.Raw, 0, len(entries))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, event.Raw{
			Tag:      tag,
			Source:   event.SourceSideChannel,
			For:      hint,
			Fields:   entry,
			Payload:  entry,
			Received: received,
		})
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
