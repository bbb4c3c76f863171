// Package tui is the interactive chat view: a bubbletea program over a
// session.Session.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pyrechat/internal/chat"
	"pyrechat/internal/connection"
	"pyrechat/internal/session"
)

// reserved is the number of rows taken by everything except the log view.
const reserved = 9

type Options struct {
	// Username highlights the user's own messages.
	Username string
	// Server is shown in the header; pass a redacted endpoint.
	Server string
	Now    func() time.Time
}

// Model owns the session for the lifetime of the program. Update is the
// session's only consumer.
type Model struct {
	ctx     context.Context
	session *session.Session
	opts    Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	lines    []string
	sendErr  error
	spinning bool
	quitting bool
}

type (
	notificationMsg struct {
		handle *connection.Handle
		n      connection.Notification
	}
	reconnectMsg struct{}
)

func New(ctx context.Context, sess *session.Session, opts Options) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &Model{
		ctx:      ctx,
		session:  sess,
		opts:     opts,
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:     help.New(),
		keys:     defaultKeyMap(),
	}
}

// Init opens the connection. A missing credential leaves the model on a
// Disconnected status line instead of failing the program.
func (m *Model) Init() tea.Cmd {
	if err := m.session.Connect(m.ctx); err != nil {
		return textinput.Blink
	}
	return tea.Batch(textinput.Blink, m.startSpinner(), m.waitCmd(m.session.Handle()))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, m.quit()
		case key.Matches(msg, m.keys.Send):
			return m, m.submit()
		case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case notificationMsg:
		return m, m.apply(msg)

	case reconnectMsg:
		if err := m.session.Reconnect(m.ctx); err != nil {
			return m, nil
		}
		return m, tea.Batch(m.startSpinner(), m.waitCmd(m.session.Handle()))

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	segments := []string{"Pyre"}
	if m.opts.Username != "" {
		segments = append(segments, "User "+m.opts.Username)
	}
	if m.opts.Server != "" {
		segments = append(segments, "Server "+m.opts.Server)
	}
	header := chatHeaderStyle.Render(strings.Join(segments, dividerStyle))

	status := renderStatus(m.session.Status(), m.spinner.View(), m.opts.Now())
	if m.sendErr != nil {
		status += "\n" + errorStyle.Render("Not sent: "+m.sendErr.Error())
	}

	body := m.viewport.View()
	if len(m.lines) == 0 {
		body = systemMessageStyle.Render("No messages yet. Say hi and start the conversation.")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		status,
		messageBoxStyle.Render(body),
		inputBoxStyle.Render(m.input.View()),
		m.help.View(m.keys),
	)
}

func (m *Model) apply(msg notificationMsg) tea.Cmd {
	out := m.session.Apply(msg.n)
	var cmds []tea.Cmd
	if out.Entry != nil {
		m.appendEntry(*out.Entry)
	}
	if out.Reconnect {
		cmds = append(cmds, m.startSpinner(), tea.Tick(out.Delay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		}))
	}
	// the close notification is the last one a handle produces
	if msg.n.Kind != connection.NotifyClose && msg.handle == m.session.Handle() {
		cmds = append(cmds, m.waitCmd(msg.handle))
	}
	return tea.Batch(cmds...)
}

func (m *Model) appendEntry(entry chat.LogEntry) {
	follow := m.viewport.AtBottom()
	m.lines = append(m.lines, RenderEntry(entry, m.opts.Username))
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) submit() tea.Cmd {
	switch strings.ToLower(strings.TrimSpace(m.input.Value())) {
	case "/quit", "/exit":
		return m.quit()
	}
	m.session.SetDraft(m.input.Value())
	sent, err := m.session.Submit()
	m.sendErr = err
	if sent {
		m.input.Reset()
	}
	return nil
}

func (m *Model) quit() tea.Cmd {
	m.session.Close()
	m.quitting = true
	return tea.Quit
}

// waitCmd delivers the next notification from h as a message.
func (m *Model) waitCmd(h *connection.Handle) tea.Cmd {
	if h == nil {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg {
		n, err := h.Next(ctx)
		if err != nil {
			return nil
		}
		return notificationMsg{handle: h, n: n}
	}
}

func (m *Model) busy() bool {
	switch m.session.Status().State {
	case connection.Connecting, connection.Reconnecting:
		return true
	}
	return false
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) resize(width, height int) {
	m.viewport.Width = width - 4
	m.viewport.Height = max(height-reserved, 3)
	m.input.Width = width - 8
	m.help.Width = width
	if len(m.lines) > 0 {
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
	}
}

// Session exposes the model's session, mainly so callers can read the final
// status after the program exits.
func (m *Model) Session() *session.Session {
	return m.session
}
