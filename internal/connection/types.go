package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrNoIdentity         = errors.New("no cached user identity")
	ErrHeartbeatTimeout   = errors.New("heartbeat timeout (no pong)")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of the managed socket.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reserved frame types.
const (
	FramePing = "ping" // outbound only
	FramePong = "pong" // inbound only, never dispatched
)

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventType names a connection lifecycle notification.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventError           EventType = "error"
	EventReconnectFailed EventType = "reconnect_failed"
)

// Event is delivered to lifecycle listeners.
type Event struct {
	Type EventType
	Err  error // EventError only

	// EventReconnectFailed only
	Attempts    int
	MaxAttempts int
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Base address, e.g. ws://127.0.0.1:8080/ws/connect
	ReconnectBaseWait    time.Duration // First reconnect delay, doubled per attempt
	ReconnectMaxWait     time.Duration // Cap for the reconnect delay
	MaxReconnectAttempts int           // 0 = unlimited
	PingInterval         time.Duration // Interval between outbound ping frames
	HeartbeatTimeout     time.Duration // Max silence since last pong; checked every half window
	HandshakeTimeout     time.Duration // Dial handshake deadline
	WriteTimeout         time.Duration // Write deadline for sends
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		URL:                  "ws://127.0.0.1:8080/ws/connect",
		ReconnectBaseWait:    3 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
		HeartbeatTimeout:     60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// ManagerStats is a point-in-time view of the manager's state.
type ManagerStats struct {
	State             State
	EpochID           string // Empty when no socket is held
	ReconnectAttempts int
	ReconnectPending  bool
	HeartbeatRunning  bool
	LastPongAt        time.Time
}
