package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"pyrechat/internal/account"
	"pyrechat/internal/chat"
	"pyrechat/internal/connection"
	"pyrechat/internal/session"
	"pyrechat/internal/tui"
)

// NewDialer picks the websocket implementation named by cfg.Transport.
func NewDialer(cfg ClientConfig) (connection.Dialer, error) {
	switch strings.ToLower(cfg.Transport) {
	case "", TransportGorilla:
		return connection.GorillaDialer{HandshakeTimeout: cfg.HandshakeTimeout, ReadLimit: cfg.ReadLimit}, nil
	case TransportCoder:
		return connection.CoderDialer{ReadLimit: cfg.ReadLimit}, nil
	}
	return nil, errors.Errorf("unknown transport %q (want %s or %s)", cfg.Transport, TransportGorilla, TransportCoder)
}

// Tokens resolves the session credential: an explicit token wins over the
// one saved by login.
func Tokens(cfg ClientConfig) session.TokenProvider {
	return account.Chain{
		account.StaticToken(cfg.Token),
		account.NewFileStore(cfg.TokenFile),
	}
}

// NewSession wires a session to a connection manager for cfg.
func NewSession(cfg ClientConfig, logger zerolog.Logger) (*session.Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("relay endpoint is required")
	}
	dialer, err := NewDialer(cfg)
	if err != nil {
		return nil, err
	}
	manager := connection.NewManager(dialer, connection.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}, logger)
	return session.New(session.Config{
		Endpoint:  cfg.Endpoint,
		Reconnect: cfg.Reconnect.Policy(),
		Linger:    cfg.Linger,
	}, manager, Tokens(cfg), logger), nil
}

// RunClient launches the Bubble Tea TUI and blocks until the user quits.
func RunClient(ctx context.Context, cfg ClientConfig, username string, logger zerolog.Logger) error {
	sess, err := NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if username == "" {
		if creds, err := account.NewFileStore(cfg.TokenFile).Load(); err == nil && creds != nil {
			username = creds.Username
		}
	}
	model := tui.New(ctx, sess, tui.Options{
		Username: username,
		Server:   connection.Redact(cfg.Endpoint),
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "run chat view")
	}
	return nil
}

// RunPipe is the headless client: each line of in is sent as a message and
// every log entry is written to out as it arrives.
func RunPipe(ctx context.Context, cfg ClientConfig, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	sess, err := NewSession(cfg, logger)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn().Err(err).Msg("read input")
		}
	}()

	return sess.Run(ctx, lines, session.Hooks{
		OnEntry: func(entry chat.LogEntry) {
			fmt.Fprintln(out, tui.RenderEntry(entry, ""))
		},
		OnStatus: func(st session.Status) {
			ev := logger.Info().Str("state", st.State.String())
			if st.Err != nil {
				ev = ev.Err(st.Err)
			}
			ev.Msg("connection status")
		},
		OnSendError: func(text string, err error) {
			logger.Warn().Err(err).Int("length", len(text)).Msg("message not sent")
		},
	})
}
