package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"pyrechat/internal/chat"
	"pyrechat/internal/chaterr"
	"pyrechat/internal/connection"
)

const defaultLinger = 500 * time.Millisecond

// Hooks receive session output in Run. Any of them may be nil.
type Hooks struct {
	OnEntry     func(chat.LogEntry)
	OnStatus    func(Status)
	OnSendError func(text string, err error)
}

// Run drives the session without a UI. Lines from input are sent in order;
// lines that arrive before the connection opens are held until it does.
// Run returns when ctx is cancelled, when input is closed and the pending
// lines have been flushed, or when the session ends on its own.
func (s *Session) Run(ctx context.Context, input <-chan string, hooks Hooks) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	notes := make(chan connection.Notification)
	forward := func(h *connection.Handle) {
		go func() {
			for {
				n, err := h.Next(ctx)
				if err != nil {
					return
				}
				select {
				case notes <- n:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	forward(s.handle)

	linger := s.cfg.Linger
	if linger <= 0 {
		linger = defaultLinger
	}

	var (
		pending   []string
		retry     <-chan time.Time
		lingering <-chan time.Time
	)
	flush := func() {
		for len(pending) > 0 && s.status.State == connection.Open {
			s.SetDraft(pending[0])
			if _, err := s.Submit(); err != nil {
				if chaterr.CodeOf(err) == chaterr.NotConnected {
					return
				}
				if hooks.OnSendError != nil {
					hooks.OnSendError(pending[0], err)
				}
			}
			pending = pending[1:]
		}
		if input == nil && len(pending) == 0 && lingering == nil {
			lingering = time.After(linger)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil

		case text, ok := <-input:
			if !ok {
				input = nil
			} else {
				pending = append(pending, text)
			}
			flush()

		case n := <-notes:
			out := s.Apply(n)
			if out.Entry != nil && hooks.OnEntry != nil {
				hooks.OnEntry(*out.Entry)
			}
			if out.StatusChanged && hooks.OnStatus != nil {
				hooks.OnStatus(s.Status())
			}
			if out.Reconnect && !s.unmounted {
				retry = time.After(out.Delay)
			}
			if out.Done {
				return s.result()
			}
			if n.Kind == connection.NotifyOpen {
				flush()
			}

		case <-retry:
			retry = nil
			if s.unmounted {
				return s.result()
			}
			if err := s.Reconnect(ctx); err != nil {
				return errors.Wrap(err, "reconnect")
			}
			forward(s.handle)

		case <-lingering:
			lingering = nil
			// While reconnecting the old handle has already reported its close,
			// so no further notification will end the loop.
			idle := s.status.State == connection.Reconnecting || s.handle == nil
			s.Close()
			if idle {
				return s.result()
			}
		}
	}
}

// result is Run's return value once the session is done.
func (s *Session) result() error {
	if s.unmounted {
		return nil
	}
	if s.status.Close != nil && s.status.Close.Local {
		return nil
	}
	if s.status.Err != nil {
		return s.status.Err
	}
	return chaterr.ErrRemoteClose
}
