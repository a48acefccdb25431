package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open WebSocket connection.
type Conn interface {
	// ReadMessage blocks until the next data frame arrives or the connection fails.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewWebsocketDialer creates a gorilla/websocket Dialer.
func NewWebsocketDialer(cfg TransportConfig, logger *slog.Logger) *WebsocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketDialer{cfg: cfg, logger: logger}
}

// Dial establishes the WebSocket connection.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, vs := range d.cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	d.logger.Debug("websocket connected", "url", url)

	return &wsConn{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
	}, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Best effort close frame; the peer may already be gone.
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
