package connection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"pyrechat/internal/chat"
)

const closeGracePeriod = time.Second

// GorillaDialer dials the relay with github.com/gorilla/websocket.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
	// ReadLimit caps one incoming frame: 0 means DefaultReadLimit, negative
	// means unlimited.
	ReadLimit int64
}

func (d GorillaDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial relay")
	}
	if limit := readLimit(d.ReadLimit); limit > 0 {
		conn.SetReadLimit(limit)
	}
	return &gorillaTransport{conn: conn}, nil
}

type gorillaTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ReadFrame ignores ctx; gorilla reads are unblocked by Close.
func (t *gorillaTransport) ReadFrame(_ context.Context) (chat.Frame, error) {
	for {
		messageType, payload, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
			}
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return chat.Frame(payload), nil
	}
}

func (t *gorillaTransport) WriteText(ctx context.Context, text string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (t *gorillaTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		// the peer may already be gone; the close frame is best effort
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(closeGracePeriod))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
