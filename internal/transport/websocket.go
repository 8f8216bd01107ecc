// ABOUTME: Websocket implementation of Conn using gorilla/websocket.
// ABOUTME: JSON envelopes as text frames, with ping keepalive and write/read deadlines.

package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/weft/internal/protocol"
)

// WSSettings carries websocket timing and size limits.
type WSSettings struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultWSSettings returns the production defaults. ReadTimeout must exceed
// PingInterval so an idle but healthy peer is kept alive by pongs.
func DefaultWSSettings() *WSSettings {
	return &WSSettings{
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   20 * time.Second,
		MaxMessageSize: 8 << 20,
	}
}

// WSConn adapts a websocket connection to Conn.
type WSConn struct {
	ws       *websocket.Conn
	settings *WSSettings

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewWSConn wraps an established websocket connection and starts its ping
// keepalive loop.
func NewWSConn(ws *websocket.Conn, settings *WSSettings) *WSConn {
	if settings == nil {
		settings = DefaultWSSettings()
	}
	c := &WSConn{ws: ws, settings: settings, done: make(chan struct{})}

	ws.SetReadLimit(settings.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	})

	go c.pingLoop()
	return c
}

// Dial connects to a weft gateway. A non-empty token is presented as a
// bearer credential at the upgrade request.
func Dial(ctx context.Context, url, token string, settings *WSSettings) (*WSConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWSConn(ws, settings), nil
}

// Upgrade promotes an HTTP request to a websocket Conn on the server side.
func Upgrade(w http.ResponseWriter, r *http.Request, settings *WSSettings) (*WSConn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Token auth happens before the upgrade; origin policy is the
		// deployment's concern.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}
	return NewWSConn(ws, settings), nil
}

// Send implements Conn.
func (c *WSConn) Send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive implements Conn.
func (c *WSConn) Receive() (*protocol.Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return protocol.Decode(data)
}

// Close implements Conn. A close frame is offered to the peer before the
// underlying socket is torn down.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(c.settings.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// pingLoop keeps the connection alive while it is idle.
func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.settings.WriteTimeout)
			err := c.ws.WriteControl(websocket.PingMessage, nil, deadline)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
