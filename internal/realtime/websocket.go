package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// readLimit caps inbound messages. Watchers only ever send "ping".
const readLimit = 4096

// WebSocketTransport adapts a coder/websocket connection to Transport.
// Any read or write error marks it closed, since coder/websocket tears the
// connection down on failure.
type WebSocketTransport struct {
	conn      *websocket.Conn
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWebSocketTransport wraps an accepted connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(readLimit)
	return &WebSocketTransport{conn: conn}
}

// SendText writes one text frame.
func (t *WebSocketTransport) SendText(ctx context.Context, text string) error {
	return t.check(t.conn.Write(ctx, websocket.MessageText, []byte(text)))
}

// SendJSON writes v as one JSON text frame.
func (t *WebSocketTransport) SendJSON(ctx context.Context, v any) error {
	return t.check(wsjson.Write(ctx, t.conn, v))
}

// Ping sends a control ping and waits for the pong. A concurrent ReadText
// must be running for the pong to be observed.
func (t *WebSocketTransport) Ping(ctx context.Context) error {
	return t.check(t.conn.Ping(ctx))
}

// ReadText returns the next text message, skipping binary frames.
func (t *WebSocketTransport) ReadText(ctx context.Context) (string, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			t.closed.Store(true)
			return "", err
		}
		if typ == websocket.MessageText {
			return string(data), nil
		}
	}
}

// Close performs the closing handshake once.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

// Closed reports whether the connection is known to be closed.
func (t *WebSocketTransport) Closed() bool {
	return t.closed.Load()
}

func (t *WebSocketTransport) check(err error) error {
	if err != nil {
		t.closed.Store(true)
	}
	return err
}
