package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errTransportClosed = errors.New("use of closed transport")

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	inbound chan []byte
	done    chan struct{}

	mu        sync.Mutex
	written   [][]byte
	readErr   error
	closeOnce sync.Once
	closes    int
	holdClose bool // Close records the call but leaves reads blocked

	// onWrite runs after every write, outside the lock.
	onWrite func(t *fakeTransport, data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.readErr != nil {
			return nil, t.readErr
		}
		return nil, errTransportClosed
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}

	t.mu.Lock()
	t.written = append(t.written, append([]byte(nil), data...))
	onWrite := t.onWrite
	t.mu.Unlock()

	if onWrite != nil {
		onWrite(t, data)
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	hold := t.holdClose
	t.mu.Unlock()
	if !hold {
		t.closeOnce.Do(func() { close(t.done) })
	}
	return nil
}

// deliver queues an inbound frame.
func (t *fakeTransport) deliver(frame string) {
	t.inbound <- []byte(frame)
}

// fail simulates the peer dropping the socket.
func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *fakeTransport) writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.written))
	for i, w := range t.written {
		out[i] = string(w)
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeTransports, or fails with err.
type fakeDialer struct {
	mu         sync.Mutex
	err        error
	targets    []string
	transports []*fakeTransport
	onWrite    func(t *fakeTransport, data []byte)
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = append(d.targets, target)
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport()
	t.onWrite = d.onWrite
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeScheduler captures reconnect timers instead of running them.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
	stopped int
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delays = append(s.delays, d)
	s.pending = append(s.pending, f)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped++
		return true
	}
}

// fire runs the most recently scheduled callback.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		t.Fatal("no reconnect scheduled")
	}
	f := s.pending[len(s.pending)-1]
	s.pending = s.pending[:len(s.pending)-1]
	s.mu.Unlock()

	f()
}

func (s *fakeScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// eventRecorder records lifecycle events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(m *Manager) *eventRecorder {
	r := &eventRecorder{}
	for _, et := range []EventType{EventConnected, EventDisconnected, EventError, EventReconnectFailed} {
		m.AddEventListener(et, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) find(et EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == et {
			return ev, true
		}
	}
	return Event{}, false
}

func (r *eventRecorder) count(et EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == et {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedIdentity(id int64) IdentitySource {
	return IdentityFunc(func(ctx context.Context) (int64, error) {
		return id, nil
	})
}

// testConfig uses long heartbeat timings so tests that don't exercise the
// heartbeat never see a ping.
func testConfig() ManagerConfig {
	return ManagerConfig{
		URL:                  "ws://chat.test/ws/connect",
		ReconnectBaseWait:    time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         time.Hour,
		HeartbeatTimeout:     2 * time.Hour,
		HandshakeTimeout:     time.Second,
		WriteTimeout:         time.Second,
	}
}

func newTestManager(cfg ManagerConfig, d *fakeDialer) (*Manager, *fakeScheduler) {
	m := NewManager(cfg, fixedIdentity(42), discardLogger(), WithDialer(d))
	s := &fakeScheduler{}
	m.schedule = s.schedule
	return m, s
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
