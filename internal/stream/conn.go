package stream

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	readLimit   = 1 << 20
	dialTimeout = 30 * time.Second
)

// Conn is the read side of a stream connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer dials the stream with nhooyr.io/websocket. Mirror pushes carry
// base64 icons, so the read limit is raised well above the library default.
// httpClient may be nil and must not set Timeout.
func WebsocketDialer(httpClient *http.Client) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		c, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPClient: httpClient})
		if err != nil {
			return nil, err
		}
		c.SetReadLimit(readLimit)
		return &wsConn{c: c}, nil
	}
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Close() error {
	return w.c.CloseNow()
}
