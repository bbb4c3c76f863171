package connection

import (
	"context"
	"sync"

	coderws "github.com/coder/websocket"
	"github.com/pkg/errors"

	"pyrechat/internal/chat"
)

// CoderDialer dials the relay with github.com/coder/websocket. ReadLimit
// follows the same rules as GorillaDialer's.
type CoderDialer struct {
	ReadLimit int64
}

func (d CoderDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	conn, resp, err := coderws.Dial(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake rejected with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial relay")
	}
	if limit := readLimit(d.ReadLimit); limit > 0 {
		conn.SetReadLimit(limit)
	} else {
		conn.SetReadLimit(-1)
	}
	return &coderTransport{conn: conn}, nil
}

type coderTransport struct {
	conn      *coderws.Conn
	closeOnce sync.Once
	closeErr  error
}

func (t *coderTransport) ReadFrame(ctx context.Context) (chat.Frame, error) {
	for {
		messageType, payload, err := t.conn.Read(ctx)
		if err != nil {
			if status := coderws.CloseStatus(err); status != -1 {
				var closeErr coderws.CloseError
				_ = errors.As(err, &closeErr)
				return nil, &CloseError{Code: int(status), Reason: closeErr.Reason}
			}
			return nil, err
		}
		if messageType != coderws.MessageText {
			continue
		}
		return chat.Frame(payload), nil
	}
}

func (t *coderTransport) WriteText(ctx context.Context, text string) error {
	return t.conn.Write(ctx, coderws.MessageText, []byte(text))
}

func (t *coderTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(coderws.StatusCode(code), reason)
	})
	return t.closeErr
}
