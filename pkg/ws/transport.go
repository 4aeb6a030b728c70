package ws

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open, message-oriented connection. ReadFrame returns the
// raw payload in any shape DecodeFrame accepts. WriteFrame may be called
// concurrently with ReadFrame but not with itself; the client serializes
// writes.
type Transport interface {
	ReadFrame() (any, error)
	WriteFrame(data []byte) error
	Close() error
}

// Dialer opens transports. The header carries Origin.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error)
}

type DialerFunc func(ctx context.Context, endpoint string, header http.Header) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	return f(ctx, endpoint, header)
}

// WebsocketDialer dials with gorilla/websocket. The proxy from the
// environment is ignored: gateways are reached directly.
type WebsocketDialer struct {
	TLS              *tls.Config
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 45 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            nil,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  d.TLS,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) ReadFrame() (any, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	if kind == websocket.TextMessage {
		return string(data), nil
	}

	return data, nil
}

func (t *wsTransport) WriteFrame(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		_ = t.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))

		t.closeErr = t.conn.Close()
	})

	return t.closeErr
}

// isExpectedClose reports read errors that end a connection normally.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
