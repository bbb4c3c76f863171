// Package session ties a connection handle to the session log and composer
// and applies the reconnect policy. A Session is driven by a single
// consumer: the TUI update loop or Run.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"pyrechat/internal/chat"
	"pyrechat/internal/chaterr"
	"pyrechat/internal/connection"
)

// TokenProvider supplies the session credential. An empty token with a nil
// error means the user is not signed in.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Opener opens connection handles; *connection.Manager implements it.
type Opener interface {
	Open(ctx context.Context, base, token string) (*connection.Handle, error)
}

// ReconnectPolicy bounds automatic reconnection after a relay-side close.
type ReconnectPolicy struct {
	Enabled             bool
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxAttempts         int
	RandomizationFactor float64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:             true,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		MaxAttempts:         5,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

type Config struct {
	Endpoint  string
	Reconnect ReconnectPolicy
	// Linger is how long Run keeps the connection after its input ends so
	// queued sends reach the relay.
	Linger time.Duration
}

// Status is what the status line shows.
type Status struct {
	State   connection.State
	Errored bool
	Err     error
	Attempt int
	Since   time.Time
	Close   *connection.CloseInfo
}

// Outcome reports what applying a notification did.
type Outcome struct {
	Entry         *chat.LogEntry
	StatusChanged bool
	// Reconnect asks the driver to call Session.Reconnect after Delay.
	Reconnect bool
	Delay     time.Duration
	// Done means the session will not produce further notifications.
	Done bool
}

type Session struct {
	cfg    Config
	opener Opener
	tokens TokenProvider
	logger zerolog.Logger
	now    func() time.Time

	log      *chat.Log
	composer chat.Composer
	handle   *connection.Handle
	token    string
	status   Status
	backoff  backoff.BackOff

	unmounted bool
}

func New(cfg Config, opener Opener, tokens TokenProvider, logger zerolog.Logger) *Session {
	s := &Session{
		cfg:    cfg,
		opener: opener,
		tokens: tokens,
		logger: logger.With().Str("component", "session").Logger(),
		now:    time.Now,
		log:    chat.NewLog(),
	}
	s.backoff = newBackOff(cfg.Reconnect)
	s.status = Status{State: connection.Idle, Since: s.now()}
	return s
}

func newBackOff(p ReconnectPolicy) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
	}
	b.Reset()
	return b
}

// Connect reads the credential once and opens the first handle. Without a
// credential it fails with AuthMissing and nothing is dialed.
func (s *Session) Connect(ctx context.Context) error {
	if s.unmounted {
		return chaterr.ErrLocalClose
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "read session token")
	}
	if token == "" {
		s.setState(connection.Closed)
		s.status.Err = chaterr.ErrAuthMissing
		return chaterr.ErrAuthMissing
	}
	s.token = token
	s.backoff.Reset()
	s.status.Attempt = 0
	return s.open(ctx)
}

// Reconnect opens a replacement handle with the credential read at Connect.
// It does nothing unless the session is waiting to reconnect.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.unmounted || s.status.State != connection.Reconnecting {
		return nil
	}
	s.logger.Info().Int("attempt", s.status.Attempt).Msg("reconnecting")
	return s.open(ctx)
}

func (s *Session) open(ctx context.Context) error {
	h, err := s.opener.Open(ctx, s.cfg.Endpoint, s.token)
	if err != nil {
		s.setState(connection.Closed)
		s.status.Errored = true
		s.status.Err = err
		return err
	}
	s.handle = h
	s.setState(connection.Connecting)
	return nil
}

// Apply folds one notification into the session. Notifications from handles
// other than the current one are ignored.
func (s *Session) Apply(n connection.Notification) Outcome {
	if s.handle == nil || n.HandleID != s.handle.ID() {
		return Outcome{}
	}
	if s.unmounted {
		return Outcome{Done: n.Kind == connection.NotifyClose}
	}

	switch n.Kind {
	case connection.NotifyOpen:
		s.setState(connection.Open)
		s.status.Errored = false
		s.status.Err = nil
		s.status.Attempt = 0
		s.status.Close = nil
		s.backoff.Reset()
		return Outcome{StatusChanged: true}

	case connection.NotifyFrame:
		entry := s.log.Append(chat.EntryFor(n.Frame, s.now()))
		if entry.Event.Fallback() {
			s.logger.Debug().Uint64("seq", entry.Seq).Str("kind", string(entry.Event.Kind)).Msg("frame rendered as fallback")
		}
		return Outcome{Entry: &entry}

	case connection.NotifyError:
		s.status.Errored = true
		s.status.Err = n.Err
		return Outcome{StatusChanged: true}

	case connection.NotifyClose:
		return s.closed(n.Close)
	}
	return Outcome{}
}

func (s *Session) closed(info connection.CloseInfo) Outcome {
	s.status.Close = &info
	switch {
	case info.Local:
		s.setState(connection.Closed)
		return Outcome{StatusChanged: true, Done: true}
	case info.Code == connection.ClosePolicyViolation:
		s.setState(connection.Closed)
		s.status.Err = chaterr.New(chaterr.RemoteClose, closeText(info))
		return Outcome{StatusChanged: true, Done: true}
	case !s.cfg.Reconnect.Enabled:
		s.setState(connection.Closed)
		if s.status.Err == nil {
			s.status.Err = chaterr.New(chaterr.RemoteClose, closeText(info))
		}
		return Outcome{StatusChanged: true, Done: true}
	}

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		s.setState(connection.Closed)
		s.status.Err = chaterr.New(chaterr.RemoteClose,
			fmt.Sprintf("gave up after %d reconnect attempts", s.status.Attempt))
		s.logger.Warn().Int("attempts", s.status.Attempt).Msg("reconnect attempts exhausted")
		return Outcome{StatusChanged: true, Done: true}
	}
	s.status.Attempt++
	s.setState(connection.Reconnecting)
	s.logger.Info().Dur("delay", delay).Int("attempt", s.status.Attempt).Int("code", info.Code).Msg("scheduling reconnect")
	return Outcome{StatusChanged: true, Reconnect: true, Delay: delay}
}

func closeText(info connection.CloseInfo) string {
	if info.Reason == "" {
		return fmt.Sprintf("closed by relay (%d)", info.Code)
	}
	return fmt.Sprintf("closed by relay (%d): %s", info.Code, info.Reason)
}

func (s *Session) SetDraft(text string) {
	s.composer.SetDraft(text)
}

func (s *Session) Draft() string {
	return s.composer.Draft()
}

// Submit sends the draft. Blank drafts are a no-op; a failed send keeps the
// draft and returns the error, typically NotConnected.
func (s *Session) Submit() (bool, error) {
	var sender chat.Sender = notConnected{state: s.status.State}
	if s.handle != nil {
		sender = s.handle
	}
	sent, err := s.composer.SendTo(sender)
	if err != nil {
		s.logger.Debug().Err(err).Msg("send failed")
	}
	return sent, err
}

type notConnected struct {
	state connection.State
}

func (n notConnected) Send(string) error {
	return chaterr.New(chaterr.NotConnected, "connection is "+n.state.String())
}

// Close tears the session down. The current handle is closed and no
// reconnect is attempted afterwards. Safe to call more than once.
func (s *Session) Close() {
	if s.unmounted {
		return
	}
	s.unmounted = true
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close transport")
		}
	}
	s.setState(connection.Closed)
}

// Handle returns the current connection handle, or nil before Connect.
func (s *Session) Handle() *connection.Handle {
	return s.handle
}

func (s *Session) Snapshot() []chat.LogEntry {
	return s.log.Snapshot()
}

func (s *Session) Status() Status {
	return s.status
}

func (s *Session) setState(state connection.State) {
	if s.status.State == state {
		return
	}
	s.status.State = state
	s.status.Since = s.now()
}
