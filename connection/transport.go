package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prism-live/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
)

// ErrServerDisconnect marks a close the server asked for. Connections closed
// this way are not retried.
var ErrServerDisconnect = errors.New("server closed the connection")

// ErrBadFrame wraps a message that could not be decoded. The connection stays
// usable after it.
var ErrBadFrame = errors.New("bad frame")

// Conn is one established live connection.
type Conn interface {
	// ReadFrame blocks until the next frame arrives or the connection ends.
	ReadFrame() (domain.Frame, error)
	WriteFrame(domain.Frame) error
	Close() error
}

// Transport opens live connections authenticated by a bearer token.
type Transport interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// WebsocketTransport dials the notification server over gorilla/websocket.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebsocketTransport(handshakeTimeout time.Duration) *WebsocketTransport {
	return &WebsocketTransport{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (t *WebsocketTransport) Dial(ctx context.Context, url, token string) (Conn, error) {
	header := http.Header{}
	for k, v := range t.Header {
		header[k] = append([]string(nil), v...)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSConn(ws), nil
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{ws: ws}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.mu.Lock()
		defer c.mu.Unlock()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return c
}

func (c *wsConn) ReadFrame() (domain.Frame, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return domain.Frame{}, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		f, err := domain.UnmarshalFrame(data)
		if err != nil {
			return domain.Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
		}
		return f, nil
	}
}

func (c *wsConn) WriteFrame(f domain.Frame) error {
	data, err := domain.MarshalFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}

// classify maps a read error to a close reason.
func classify(err error) Reason {
	if errors.Is(err, ErrServerDisconnect) {
		return ReasonServer
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
		return ReasonServer
	}
	return ReasonTransport
}
