package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"pyrechat/internal/chat"
	"pyrechat/internal/chaterr"
	"pyrechat/internal/connection"
	"pyrechat/internal/session"
)

// RenderEntry renders one log line. It reads only the stored entry, so a
// malformed frame can at worst produce a plain fallback line.
func RenderEntry(entry chat.LogEntry, self string) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", entry.ReceivedAt.Format("15:04:05")))
	ev := entry.Event

	var body string
	switch entry.Hint {
	case chat.HintChatBubble:
		nameStyle := usernameStyle.Copy().Foreground(colorForUser(ev.Username))
		if ev.Username == self {
			nameStyle = activeUserStyle
		}
		name := nameStyle.Render(ev.Username)
		text := messageBodyStyle.Render(strings.ReplaceAll(ev.Content, "\n", "\n   "))
		return lipgloss.JoinHorizontal(lipgloss.Top, timestamp, " ", name, ": ", text)
	case chat.HintJoinBanner:
		body = presenceStyle.Render(fmt.Sprintf("→ %s joined the chat", ev.Username))
	case chat.HintLeaveBanner:
		body = presenceStyle.Render(fmt.Sprintf("← %s left the chat", ev.Username))
	case chat.HintSystemNotice:
		body = systemMessageStyle.Render(ev.Content)
	case chat.HintErrorNotice:
		body = errorStyle.Render(ev.Content)
	default:
		body = fallbackStyle.Render(ev.Raw)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, timestamp, " ", body)
}

// renderStatus is the connection status line. It is derived from the
// session status every frame so it can never drift from the connection.
func renderStatus(st session.Status, spin string, now time.Time) string {
	var line string
	switch st.State {
	case connection.Idle:
		line = statusStyle.Render("Idle")
	case connection.Connecting:
		line = connectingStyle.Render(spin + " Connecting…")
	case connection.Reconnecting:
		line = connectingStyle.Render(fmt.Sprintf("%s Reconnecting (attempt %d)…", spin, st.Attempt))
	case connection.Open:
		line = connectedStyle.Render("Connected") + statusStyle.Render(" ("+humanize.RelTime(st.Since, now, "ago", "from now")+")")
	case connection.Closing:
		line = connectingStyle.Render("Closing…")
	case connection.Closed:
		line = errorStyle.Render("Disconnected")
	}
	switch {
	case st.Err != nil:
		line += errorStyle.Render(": " + describeError(st.Err))
	case st.Errored:
		line += errorStyle.Render(" (transport error)")
	}
	return line
}

func describeError(err error) string {
	if chaterr.CodeOf(err) == chaterr.AuthMissing {
		return "not signed in; run `pyrechat login` first"
	}
	return err.Error()
}
