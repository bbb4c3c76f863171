package chat

import "time"

// RenderHint selects how a log entry is presented.
type RenderHint int

const (
	HintFallback RenderHint = iota
	HintChatBubble
	HintJoinBanner
	HintLeaveBanner
	HintSystemNotice
	HintErrorNotice
)

func (h RenderHint) String() string {
	switch h {
	case HintChatBubble:
		return "chat_bubble"
	case HintJoinBanner:
		return "join_banner"
	case HintLeaveBanner:
		return "leave_banner"
	case HintSystemNotice:
		return "system_notice"
	case HintErrorNotice:
		return "error_notice"
	default:
		return "fallback"
	}
}

// Classify maps an event to its render hint. Every kind, including ones
// added later, resolves to some hint.
func Classify(ev Event) RenderHint {
	switch ev.Kind {
	case KindMessage:
		return HintChatBubble
	case KindUserJoined:
		return HintJoinBanner
	case KindUserLeft:
		return HintLeaveBanner
	case KindSystem, KindNotification:
		return HintSystemNotice
	case KindError:
		return HintErrorNotice
	default:
		return HintFallback
	}
}

// EntryFor decodes and classifies a frame once, producing the entry that the
// log stores. Seq is assigned by Log.Append.
func EntryFor(f Frame, at time.Time) LogEntry {
	ev := Decode(f)
	return LogEntry{Event: ev, Hint: Classify(ev), ReceivedAt: at}
}
