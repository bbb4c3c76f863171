package connection

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"pyrechat/internal/chat"
)

// NotificationKind tags a Notification.
type NotificationKind int

const (
	NotifyOpen NotificationKind = iota
	NotifyFrame
	NotifyError
	NotifyClose
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyOpen:
		return "open"
	case NotifyFrame:
		return "frame"
	case NotifyError:
		return "error"
	case NotifyClose:
		return "close"
	default:
		return "invalid"
	}
}

// CloseInfo describes how a handle ended. Local is set when this client
// requested the close.
type CloseInfo struct {
	Code   int
	Reason string
	Local  bool
}

// Notification is one lifecycle or data event from a Handle.
type Notification struct {
	HandleID string
	Kind     NotificationKind
	Frame    chat.Frame
	Err      error
	Close    CloseInfo
}

// ErrDrained is returned by Handle.Next once the close notification has been
// consumed.
var ErrDrained = errors.New("connection: no more notifications")

// queue is an unbounded FIFO with a single consumer. Producers never block,
// so a slow renderer cannot stall the socket reader.
type queue struct {
	mu     sync.Mutex
	items  []Notification
	sealed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(n Notification) bool {
	q.mu.Lock()
	if q.sealed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, n)
	q.mu.Unlock()
	q.wake()
	return true
}

// seal rejects further pushes. Items already queued are still delivered.
func (q *queue) seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) next(ctx context.Context) (Notification, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = Notification{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return n, nil
		}
		sealed := q.sealed
		q.mu.Unlock()
		if sealed {
			return Notification{}, ErrDrained
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		}
	}
}
