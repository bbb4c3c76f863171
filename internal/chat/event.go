// Package chat holds the pure parts of the chat client: the wire codec, the
// render classification, the append-only session log and the composer.
package chat

// Kind discriminates a decoded Event.
type Kind string

const (
	KindMessage      Kind = "message"
	KindUserJoined   Kind = "user_joined"
	KindUserLeft     Kind = "user_left"
	KindSystem       Kind = "system"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
	// KindUnknown is a structured payload that could not be routed: unknown or
	// missing type, or a known type without its required fields.
	KindUnknown Kind = "unknown"
	// KindRaw is a frame that was not valid JSON.
	KindRaw Kind = "raw"
)

// Frame is one text message as received from, or sent to, the relay.
type Frame []byte

// Event is the decoded form of a Frame. Raw always holds the original frame
// text so fallback rendering can show it unchanged.
type Event struct {
	Kind     Kind
	Type     string
	Username string
	Content  string
	Raw      string
}

// Fallback reports whether the event has no dedicated presentation.
func (e Event) Fallback() bool {
	return e.Kind == KindRaw || e.Kind == KindUnknown
}
