package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open socket. A Transport is used for a single connection
// epoch and never reopened.
type Transport interface {
	// ReadMessage blocks until the next text frame arrives or the socket fails.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close closes the socket. Pending ReadMessage calls return an error.
	Close() error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, target string) (Transport, error)
}

// websocketDialer dials the chat server with gorilla/websocket.
type websocketDialer struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
}

// NewWebsocketDialer returns a Dialer backed by gorilla/websocket.
func NewWebsocketDialer(cfg ManagerConfig) Dialer {
	return &websocketDialer{
		handshakeTimeout: cfg.HandshakeTimeout,
		writeTimeout:     cfg.WriteTimeout,
	}
}

// Dial performs the WebSocket handshake.
func (d *websocketDialer) Dial(ctx context.Context, target string) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &websocketTransport{
		conn:         conn,
		writeTimeout: d.writeTimeout,
	}, nil
}

// websocketTransport implements Transport over a gorilla connection.
type websocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (t *websocketTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *websocketTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket.
func (t *websocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
