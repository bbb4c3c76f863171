package connection

import (
	"context"
	"fmt"

	"pyrechat/internal/chat"
)

// Close codes the client acts on.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// DefaultReadLimit bounds a single incoming frame. The relay accepts 8 KiB
// messages and JSON escaping can grow each byte to six.
const DefaultReadLimit int64 = 1 << 20

// readLimit resolves a dialer's configured limit; zero means the default and
// a negative value disables the limit.
func readLimit(n int64) int64 {
	if n == 0 {
		return DefaultReadLimit
	}
	return n
}

// Transport is one established websocket. ReadFrame is only called from a
// single goroutine; WriteText and Close may be called concurrently with it.
// Close must be idempotent.
type Transport interface {
	ReadFrame(ctx context.Context) (chat.Frame, error)
	WriteText(ctx context.Context, text string) error
	Close(code int, reason string) error
}

// Dialer opens a Transport to a fully built endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// CloseError is returned by ReadFrame when the peer sent a close frame or the
// stream ended abnormally.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}
