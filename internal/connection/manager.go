package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// IdentitySource resolves the locally cached user identity.
type IdentitySource interface {
	UserID(ctx context.Context) (int64, error)
}

// IdentityFunc adapts a function to IdentitySource.
type IdentityFunc func(ctx context.Context) (int64, error)

// UserID calls f.
func (f IdentityFunc) UserID(ctx context.Context) (int64, error) {
	return f(ctx)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the default gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// errClosedLocally marks an epoch closed by Disconnect.
var errClosedLocally = errors.New("closed locally")

// epoch is the lifetime of one socket, from open to close.
type epoch struct {
	id        string
	transport Transport

	hbStop    chan struct{}
	hbOnce    sync.Once
	heartbeat bool // guarded by Manager.mu

	reason error // guarded by Manager.mu; set when we initiated the close
	closed bool  // guarded by Manager.mu
}

// scheduleFunc runs f once after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Manager owns one chat socket for a user session: it keeps the socket alive
// with ping frames, reconnects with capped exponential backoff and routes
// inbound frames to subscribers by type.
//
// Construct one Manager per logged-in user and Disconnect it on logout.
type Manager struct {
	cfg        ManagerConfig
	identities IdentitySource
	dialer     Dialer
	logger     *slog.Logger

	now      func() time.Time
	schedule scheduleFunc

	handlers *registry[string]
	events   *registry[EventType]

	mu              sync.Mutex
	state           State
	epoch           *epoch
	seq             uint64 // bumped per connect attempt and by Disconnect
	token           string
	shouldReconnect bool
	attempts        int
	stopReconnect   func() bool // non-nil while a reconnect is pending
	reconnectGen    uint64
	lastPongAt      time.Time
}

// NewManager creates a Connection Manager. Zero durations in cfg are replaced
// with DefaultManagerConfig values.
func NewManager(cfg ManagerConfig, identities IdentitySource, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)

	m := &Manager{
		cfg:             cfg,
		identities:      identities,
		logger:          logger,
		now:             time.Now,
		schedule:        afterFunc,
		handlers:        newRegistry[string](),
		events:          newRegistry[EventType](),
		state:           StateIdle,
		shouldReconnect: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewWebsocketDialer(cfg)
	}
	return m
}

func withDefaults(cfg ManagerConfig) ManagerConfig {
	def := DefaultManagerConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

// BackoffDelay returns the wait before reconnect attempt n (0-indexed):
// min(base * 2^n, maxWait).
func BackoffDelay(attempt int, base, maxWait time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		if delay > maxWait/2 {
			return maxWait
		}
		delay *= 2
	}
	if delay > maxWait {
		return maxWait
	}
	return delay
}

// Connect opens the socket using token and the cached user identity. It is a
// no-op while a connection is being established, open or closing, and it
// replaces any pending reconnect. A failed dial or identity lookup is reported
// through the error and disconnected events and retried by the reconnect
// scheduler; a missing identity is not retried.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	m.shouldReconnect = true
	if m.state == StateIdle || m.state == StateClosed {
		m.cancelReconnectLocked()
	}
	m.mu.Unlock()

	return m.connect(ctx, token, true)
}

func (m *Manager) connect(ctx context.Context, token string, explicit bool) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen || m.state == StateClosing {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state)
		return nil
	}
	if !explicit && !m.shouldReconnect {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.token = token
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	target, err := m.target(ctx, token)
	if errors.Is(err, ErrNoIdentity) {
		m.mu.Lock()
		ended := m.seq == seq && m.state == StateConnecting
		attempts := m.attempts
		if ended {
			m.state = StateIdle
			m.attempts = 0
		}
		m.mu.Unlock()

		m.logger.Error("cannot connect", "error", err)
		m.emit(Event{Type: EventError, Err: err})
		if ended && !explicit {
			m.emit(Event{
				Type:        EventReconnectFailed,
				Err:         err,
				Attempts:    attempts,
				MaxAttempts: m.cfg.MaxReconnectAttempts,
			})
		}
		return err
	}

	ep := &epoch{
		id:     uuid.NewString(),
		hbStop: make(chan struct{}),
	}
	logger := m.logger.With("conn_id", ep.id)

	var transport Transport
	if err == nil {
		logger.Info("connecting", "url", m.cfg.URL)
		transport, err = m.dialer.Dial(ctx, target)
	}
	if err != nil {
		logger.Warn("connect failed", "error", err)
		m.emit(Event{Type: EventError, Err: err})

		m.mu.Lock()
		reconnect := false
		if m.seq == seq && m.state == StateConnecting {
			m.state = StateClosed
			reconnect = m.shouldReconnect
		}
		m.mu.Unlock()

		m.emit(Event{Type: EventDisconnected})
		if reconnect {
			m.scheduleReconnect()
		}
		return fmt.Errorf("connect: %w", err)
	}
	ep.transport = transport

	m.mu.Lock()
	if m.seq != seq || m.state != StateConnecting {
		// Disconnect ran while dialing.
		m.mu.Unlock()
		transport.Close()
		logger.Info("connect aborted by disconnect")
		return ErrNotConnected
	}
	m.epoch = ep
	m.state = StateOpen
	m.attempts = 0
	m.lastPongAt = m.now()
	m.startHeartbeatLocked(ep)
	m.mu.Unlock()

	logger.Info("connected")
	m.emit(Event{Type: EventConnected})

	go m.readLoop(ep)

	return nil
}

// target builds the socket URL: <base>?token=<token>&user_id=<id>. Only a
// missing source or a zero id is ErrNoIdentity; lookup errors are returned as is.
func (m *Manager) target(ctx context.Context, token string) (string, error) {
	if m.identities == nil {
		return "", ErrNoIdentity
	}
	userID, err := m.identities.UserID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve user id: %w", err)
	}
	if userID == 0 {
		return "", ErrNoIdentity
	}

	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("user_id", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Disconnect stops heartbeats, cancels any pending reconnect and closes the
// socket. Reconnection stays off until the next Connect. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	m.cancelReconnectLocked()
	ep := m.epoch
	m.epoch = nil
	if ep != nil {
		m.stopHeartbeatLocked(ep)
		if ep.reason == nil {
			ep.reason = errClosedLocally
		}
	}
	m.seq++
	m.state = StateIdle
	m.mu.Unlock()

	if ep != nil {
		m.logger.Info("disconnecting", "conn_id", ep.id)
		ep.transport.Close()
	}
}

// Send serializes v as JSON and writes it if the socket is open. It returns
// false without writing otherwise; nothing is queued.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	ep := m.epoch
	open := m.state == StateOpen && ep != nil
	m.mu.Unlock()

	if !open {
		m.logger.Warn("socket not open, dropping send")
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cannot encode outbound message", "error", err)
		return false
	}

	if err := ep.transport.WriteMessage(data); err != nil {
		m.logger.Warn("send failed", "conn_id", ep.id, "error", err)
		return false
	}
	return true
}

// SendFrame sends {"type": frameType, "data": data}.
func (m *Manager) SendFrame(frameType string, data any) bool {
	f := Frame{Type: frameType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			m.logger.Warn("cannot encode frame data", "type", frameType, "error", err)
			return false
		}
		f.Data = raw
	}
	return m.Send(f)
}

// Subscribe registers h for frames of frameType. Handlers run in registration order.
func (m *Manager) Subscribe(frameType string, h Handler) *Listener {
	return m.handlers.on(frameType, h)
}

// Unsubscribe removes a registration returned by Subscribe.
func (m *Manager) Unsubscribe(frameType string, l *Listener) {
	m.handlers.off(frameType, l)
}

// AddEventListener registers h for a lifecycle event.
func (m *Manager) AddEventListener(event EventType, h EventHandler) *Listener {
	return m.events.on(event, h)
}

// RemoveEventListener removes a registration returned by AddEventListener.
func (m *Manager) RemoveEventListener(event EventType, l *Listener) {
	m.events.off(event, l)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		State:             m.state,
		ReconnectAttempts: m.attempts,
		ReconnectPending:  m.stopReconnect != nil,
		LastPongAt:        m.lastPongAt,
	}
	if m.epoch != nil {
		stats.EpochID = m.epoch.id
		stats.HeartbeatRunning = m.epoch.heartbeat
	}
	return stats
}

// readLoop reads frames for one epoch until the socket fails or is closed.
func (m *Manager) readLoop(ep *epoch) {
	for {
		data, err := ep.transport.ReadMessage()
		if err != nil {
			m.handleClose(ep, err)
			return
		}
		m.handleMessage(ep, data)
	}
}

// handleClose runs the close transition for ep exactly once.
func (m *Manager) handleClose(ep *epoch, readErr error) {
	m.mu.Lock()
	if ep.closed {
		m.mu.Unlock()
		return
	}
	ep.closed = true
	m.stopHeartbeatLocked(ep)

	reconnect := false
	if m.epoch == ep {
		m.epoch = nil
		if m.shouldReconnect {
			m.state = StateClosed
			reconnect = true
		} else {
			m.state = StateIdle
		}
	}
	reason := ep.reason
	m.mu.Unlock()

	ep.transport.Close()

	switch {
	case reason == nil && !isNormalClose(readErr):
		m.logger.Warn("connection error", "conn_id", ep.id, "error", readErr)
		m.emit(Event{Type: EventError, Err: readErr})
	case errors.Is(reason, ErrHeartbeatTimeout):
		m.emit(Event{Type: EventError, Err: reason})
	}

	m.logger.Info("connection closed", "conn_id", ep.id)
	m.emit(Event{Type: EventDisconnected})

	if reconnect {
		m.scheduleReconnect()
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// forceClose closes ep's socket on our initiative. The reader observes the
// closed socket and runs the normal close transition.
func (m *Manager) forceClose(ep *epoch, reason error) {
	m.mu.Lock()
	if ep.closed || ep.reason != nil {
		m.mu.Unlock()
		return
	}
	ep.reason = reason
	m.stopHeartbeatLocked(ep)
	if m.epoch == ep {
		m.state = StateClosing
	}
	m.mu.Unlock()

	ep.transport.Close()
}

// scheduleReconnect arms the single reconnect timer, or reports exhaustion.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopReconnect != nil || !m.shouldReconnect {
		m.mu.Unlock()
		return
	}

	maxAttempts := m.cfg.MaxReconnectAttempts
	if maxAttempts > 0 && m.attempts >= maxAttempts {
		attempts := m.attempts
		m.state = StateIdle
		m.mu.Unlock()

		m.logger.Error("giving up reconnecting", "attempts", attempts, "max_attempts", maxAttempts)
		m.emit(Event{
			Type:        EventReconnectFailed,
			Err:         ErrReconnectExhausted,
			Attempts:    attempts,
			MaxAttempts: maxAttempts,
		})
		return
	}

	delay := BackoffDelay(m.attempts, m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait)
	m.attempts++
	m.reconnectGen++
	gen := m.reconnectGen
	attempt := m.attempts
	m.stopReconnect = m.schedule(delay, func() { m.fireReconnect(gen) })
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if m.stopReconnect == nil || gen != m.reconnectGen {
		m.mu.Unlock()
		return
	}
	m.stopReconnect = nil
	token := m.token
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "attempt", attempt)
	if err := m.connect(context.Background(), token, false); err != nil {
		m.logger.Debug("reconnection failed", "attempt", attempt, "error", err)
	}
}

func (m *Manager) cancelReconnectLocked() {
	if m.stopReconnect != nil {
		m.stopReconnect()
		m.stopReconnect = nil
	}
}
