package connection

import (
	"encoding/json"
	"time"
)

var pingFrame, _ = json.Marshal(Frame{Type: FramePing})

// startHeartbeatLocked starts the ping sender and liveness checker for ep.
// Both run on one goroutine so they start and stop together.
func (m *Manager) startHeartbeatLocked(ep *epoch) {
	if ep.heartbeat {
		return
	}
	ep.heartbeat = true
	go m.heartbeatLoop(ep)
}

// stopHeartbeatLocked stops ep's heartbeat. Safe to call repeatedly.
func (m *Manager) stopHeartbeatLocked(ep *epoch) {
	ep.heartbeat = false
	ep.hbOnce.Do(func() {
		close(ep.hbStop)
	})
}

// heartbeatLoop sends pings every PingInterval and every half HeartbeatTimeout
// checks how long ago the last pong arrived.
func (m *Manager) heartbeatLoop(ep *epoch) {
	checkEvery := m.cfg.HeartbeatTimeout / 2
	if checkEvery <= 0 {
		checkEvery = time.Millisecond
	}

	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()
	check := time.NewTicker(checkEvery)
	defer check.Stop()

	for {
		select {
		case <-ep.hbStop:
			return

		case <-ping.C:
			m.sendPing(ep)

		case <-check.C:
			m.mu.Lock()
			silence := m.now().Sub(m.lastPongAt)
			m.mu.Unlock()

			if silence > m.cfg.HeartbeatTimeout {
				m.logger.Warn("heartbeat timeout, closing connection",
					"conn_id", ep.id,
					"silence", silence,
					"timeout", m.cfg.HeartbeatTimeout,
				)
				m.forceClose(ep, ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// sendPing writes a ping frame if ep is still the open epoch.
func (m *Manager) sendPing(ep *epoch) {
	m.mu.Lock()
	open := m.epoch == ep && m.state == StateOpen
	m.mu.Unlock()
	if !open {
		return
	}

	if err := ep.transport.WriteMessage(pingFrame); err != nil {
		m.logger.Debug("failed to send ping", "conn_id", ep.id, "error", err)
	}
}

// recordPong marks the peer as alive.
func (m *Manager) recordPong(ep *epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch == ep {
		m.lastPongAt = m.now()
	}
}
