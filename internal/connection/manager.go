// Package connection owns the websocket link to the relay: dialing, the
// reader and writer goroutines, lifecycle state and close classification.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"pyrechat/internal/chaterr"
)

const defaultSendBuffer = 64

// Config tunes handles opened by a Manager.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

// Manager opens connection handles. It holds no per-connection state, so one
// Manager can serve any number of handles.
type Manager struct {
	dialer Dialer
	cfg    Config
	logger zerolog.Logger
}

func NewManager(dialer Dialer, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	return &Manager{
		dialer: dialer,
		cfg:    cfg,
		logger: logger.With().Str("component", "connection").Logger(),
	}
}

// Open starts connecting to base with token embedded. The returned handle is
// already Connecting; progress is reported through Handle.Next. Cancelling
// ctx closes the handle.
func (m *Manager) Open(ctx context.Context, base, token string) (*Handle, error) {
	if token == "" {
		return nil, chaterr.ErrAuthMissing
	}
	endpoint, err := BuildEndpoint(base, token)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     uuid.NewString(),
		cfg:    m.cfg,
		state:  Connecting,
		outbox: make(chan string, m.cfg.SendBuffer),
		notes:  newQueue(),
		ctx:    hctx,
		cancel: cancel,
	}
	h.logger = m.logger.With().Str("handle", h.id).Logger()
	h.stopAfter = context.AfterFunc(ctx, func() { _ = h.Close() })

	h.logger.Debug().Str("endpoint", Redact(endpoint)).Msg("dialing relay")
	go h.run(m.dialer, endpoint)
	return h, nil
}

// Handle is one connection attempt and, if it opens, its lifetime. A handle
// never reconnects; callers open a new one.
type Handle struct {
	id     string
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	errored   bool
	lastErr   error
	transport Transport

	outbox chan string
	notes  *queue

	ctx        context.Context
	cancel     context.CancelFunc
	stopAfter  func() bool
	finishOnce sync.Once
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Errored reports whether a transport error was observed on this handle.
func (h *Handle) Errored() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errored
}

// Err returns the most recent transport error, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Next blocks for the next notification. After the close notification has
// been returned it reports ErrDrained.
func (h *Handle) Next(ctx context.Context) (Notification, error) {
	return h.notes.next(ctx)
}

// Send queues text for the writer. It fails with NotConnected unless the
// handle is Open.
func (h *Handle) Send(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Open {
		return chaterr.New(chaterr.NotConnected, "connection is "+h.state.String())
	}
	select {
	case h.outbox <- text:
		return nil
	default:
		return chaterr.New(chaterr.TransportError, "send buffer full")
	}
}

// Close requests a normal close. It is safe to call at any point, any number
// of times, including after the relay has closed the connection.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == Closing || h.state == Closed {
		h.mu.Unlock()
		return nil
	}
	h.state = Closing
	t := h.transport
	h.mu.Unlock()

	h.logger.Debug().Msg("closing")
	var err error
	if t != nil {
		err = t.Close(CloseNormal, "client close")
	}
	h.cancel()
	return err
}

func (h *Handle) run(dialer Dialer, endpoint string) {
	dialCtx := h.ctx
	if h.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(h.ctx, h.cfg.HandshakeTimeout)
		defer cancel()
	}

	t, err := dialer.Dial(dialCtx, endpoint)
	if err != nil {
		if h.closing() {
			h.finish(localClose())
			return
		}
		h.fail(chaterr.Wrap(chaterr.TransportError, "handshake failed", err))
		h.finish(CloseInfo{Code: CloseAbnormal, Reason: err.Error()})
		return
	}

	h.mu.Lock()
	if h.state != Connecting {
		h.mu.Unlock()
		_ = t.Close(CloseNormal, "client close")
		h.finish(localClose())
		return
	}
	h.transport = t
	h.state = Open
	h.mu.Unlock()

	h.logger.Info().Msg("connection open")
	h.notes.push(Notification{HandleID: h.id, Kind: NotifyOpen})

	go h.writeLoop(t)
	h.readLoop(t)
}

func (h *Handle) readLoop(t Transport) {
	for {
		frame, err := t.ReadFrame(h.ctx)
		if err != nil {
			h.finish(h.classify(err))
			return
		}
		h.notes.push(Notification{HandleID: h.id, Kind: NotifyFrame, Frame: frame})
	}
}

func (h *Handle) writeLoop(t Transport) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case text := <-h.outbox:
			if err := h.write(t, text); err != nil {
				if !h.closing() {
					h.fail(chaterr.Wrap(chaterr.TransportError, "write failed", err))
				}
				// unblocks the reader, which reports the close
				_ = t.Close(CloseInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Handle) write(t Transport, text string) error {
	ctx := h.ctx
	if h.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(h.ctx, h.cfg.WriteTimeout)
		defer cancel()
	}
	return t.WriteText(ctx, text)
}

// classify turns the error that ended the read loop into close details.
func (h *Handle) classify(err error) CloseInfo {
	if h.closing() {
		return localClose()
	}
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == CloseAbnormal {
			h.fail(chaterr.Wrap(chaterr.RemoteClose, "connection dropped", err))
		}
		return CloseInfo{Code: closeErr.Code, Reason: closeErr.Reason}
	}
	h.fail(chaterr.Wrap(chaterr.TransportError, "read failed", err))
	return CloseInfo{Code: CloseAbnormal, Reason: err.Error()}
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	h.errored = true
	h.lastErr = err
	h.mu.Unlock()
	h.logger.Warn().Err(err).Msg("transport error")
	h.notes.push(Notification{HandleID: h.id, Kind: NotifyError, Err: err})
}

// finish moves the handle to Closed and emits the single close notification.
func (h *Handle) finish(info CloseInfo) {
	h.finishOnce.Do(func() {
		h.mu.Lock()
		h.state = Closed
		t := h.transport
		h.mu.Unlock()

		h.cancel()
		if h.stopAfter != nil {
			h.stopAfter()
		}
		if t != nil {
			_ = t.Close(CloseNormal, "")
		}
		h.logger.Info().Int("code", info.Code).Str("reason", info.Reason).Bool("local", info.Local).Msg("connection closed")
		h.notes.push(Notification{HandleID: h.id, Kind: NotifyClose, Close: info})
		h.notes.seal()
	})
}

func (h *Handle) closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == Closing || h.state == Closed
}

func localClose() CloseInfo {
	return CloseInfo{Code: CloseNormal, Reason: "client close", Local: true}
}
