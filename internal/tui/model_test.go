package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pyrechat/internal/account"
	"pyrechat/internal/chat"
	"pyrechat/internal/chaterr"
	"pyrechat/internal/connection"
	"pyrechat/internal/session"
)

type pipeTransport struct {
	frames  chan chat.Frame
	written chan string
	closed  chan struct{}
	once    sync.Once
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		frames:  make(chan chat.Frame, 8),
		written: make(chan string, 8),
		closed:  make(chan struct{}),
	}
}

func (p *pipeTransport) ReadFrame(context.Context) (chat.Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.closed:
		return nil, errors.New("closed")
	}
}

func (p *pipeTransport) WriteText(_ context.Context, text string) error {
	p.written <- text
	return nil
}

func (p *pipeTransport) Close(int, string) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type pipeDialer struct {
	transport *pipeTransport
	release   chan struct{}
}

func (d *pipeDialer) Dial(ctx context.Context, _ string) (connection.Transport, error) {
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.transport, nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T, token string) (*Model, *pipeDialer) {
	t.Helper()
	dialer := &pipeDialer{transport: newPipeTransport(), release: make(chan struct{})}
	manager := connection.NewManager(dialer, connection.Config{}, zerolog.Nop())
	sess := session.New(session.Config{
		Endpoint:  "ws://relay.test/pyre",
		Reconnect: session.ReconnectPolicy{},
	}, manager, account.StaticToken(token), zerolog.Nop())
	m := New(context.Background(), sess, Options{Username: "ada", Server: "relay.test", Now: func() time.Time { return fixedNow }})
	t.Cleanup(sess.Close)
	return m, dialer
}

// pump feeds the next notification of the current handle into the model.
func pump(t *testing.T, m *Model) connection.Notification {
	t.Helper()
	h := m.session.Handle()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := h.Next(ctx)
	require.NoError(t, err)
	m.Update(notificationMsg{handle: h, n: n})
	return n
}

func typeText(m *Model, text string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestModelShowsJoinAndSends(t *testing.T) {
	m, dialer := newTestModel(t, "abc123")
	require.NotNil(t, m.Init())
	require.Contains(t, m.View(), "Connecting")

	close(dialer.release)
	require.Equal(t, connection.NotifyOpen, pump(t, m).Kind)
	require.Contains(t, m.View(), "Connected")

	dialer.transport.frames <- chat.Frame(`{"type":"user_joined","username":"bob"}`)
	require.Equal(t, connection.NotifyFrame, pump(t, m).Kind)
	require.Contains(t, m.View(), "bob joined the chat")

	typeText(m, "hello")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, m.input.Value())
	require.NoError(t, m.sendErr)
	select {
	case got := <-dialer.transport.written:
		require.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not written")
	}
}

func TestModelKeepsDraftWhenNotConnected(t *testing.T) {
	m, _ := newTestModel(t, "abc123")
	m.Init()

	typeText(m, "too early")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, "too early", m.input.Value())
	require.Equal(t, chaterr.NotConnected, chaterr.CodeOf(m.sendErr))
	require.Contains(t, m.View(), "Not sent")
}

func TestModelWithoutCredential(t *testing.T) {
	m, _ := newTestModel(t, "")
	m.Init()
	require.Nil(t, m.session.Handle())
	require.Contains(t, m.View(), "pyrechat login")
}

func TestModelQuitCommand(t *testing.T) {
	for _, command := range []string{"/quit", "/EXIT"} {
		m, _ := newTestModel(t, "abc123")
		m.Init()
		typeText(m, command)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		require.IsType(t, tea.QuitMsg{}, cmd())
		require.Equal(t, connection.Closed, m.session.Status().State)
	}
}

func TestModelEscTearsDown(t *testing.T) {
	m, _ := newTestModel(t, "abc123")
	m.Init()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Equal(t, connection.Closed, m.session.Status().State)
	require.Empty(t, m.View())
}
