package logstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an established log stream connection. ReadMessage blocks until
// the next frame arrives or the connection fails. Close must unblock a
// pending ReadMessage.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// Dialer opens log stream connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DefaultHandshakeTimeout bounds the websocket opening handshake.
const DefaultHandshakeTimeout = 45 * time.Second

// WebsocketDialer dials log streams over websockets.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
	Header           http.Header
}

// Dial connects to endpoint. The returned error never contains the
// token query parameter.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
	}

	conn, resp, err := wd.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", RedactToken(endpoint), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", RedactToken(endpoint), err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	once sync.Once
	err  error
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// Close sends a normal-closure frame before dropping the connection.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.err = c.conn.Close()
	})
	return c.err
}

// RedactToken masks the token query parameter of a stream URL.
func RedactToken(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// isCleanClose reports whether a read error is an orderly end of stream.
func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
