package chat

import (
	"encoding/json"
)

// Encode turns composer text into an outgoing frame. Outgoing messages are
// sent as bare text; the relay attaches the sender.
func Encode(text string) Frame {
	return Frame(text)
}

// Decode parses an incoming frame. It never fails: frames that are not JSON
// become KindRaw and structured frames that cannot be routed become
// KindUnknown, both keeping the original text.
func Decode(f Frame) Event {
	raw := string(f)
	if !json.Valid(f) {
		return Event{Kind: KindRaw, Raw: raw}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f, &fields); err != nil || fields == nil {
		return Event{Kind: KindUnknown, Raw: raw}
	}

	typ, ok := stringField(fields, "type")
	if !ok {
		return Event{Kind: KindUnknown, Raw: raw}
	}
	username, hasUser := stringField(fields, "username")
	content, hasContent := stringField(fields, "content")
	ev := Event{Type: typ, Username: username, Content: content, Raw: raw}

	switch Kind(typ) {
	case KindMessage:
		if !hasUser || !hasContent {
			return unknown(ev)
		}
	case KindUserJoined, KindUserLeft:
		if !hasUser {
			return unknown(ev)
		}
	case KindSystem, KindNotification, KindError:
		if !hasContent {
			return unknown(ev)
		}
	default:
		return unknown(ev)
	}
	ev.Kind = Kind(typ)
	return ev
}

func unknown(ev Event) Event {
	ev.Kind = KindUnknown
	return ev
}

// stringField reports the value of key when it is present and a JSON string.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	rawValue, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(rawValue, &s); err != nil {
		return "", false
	}
	return s, true
}
