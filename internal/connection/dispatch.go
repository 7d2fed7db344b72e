package connection

import (
	"encoding/json"
	"fmt"
)

// Handler receives the "data" payload of a frame. A returned error is logged
// and does not affect other handlers or the connection.
type Handler func(payload json.RawMessage) error

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// Decode wraps fn in a Handler that unmarshals the payload into T first.
func Decode[T any](fn func(T) error) Handler {
	return func(payload json.RawMessage) error {
		var v T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				return fmt.Errorf("decode %T payload: %w", v, err)
			}
		}
		return fn(v)
	}
}

// handleMessage decodes one inbound frame and routes it.
func (m *Manager) handleMessage(ep *epoch, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		m.logger.Warn("dropping undecodable frame",
			"conn_id", ep.id,
			"error", err,
			"size", len(data),
		)
		return
	}

	if f.Type == FramePong {
		m.recordPong(ep)
		return
	}

	m.dispatch(f)
}

// dispatch invokes every handler registered for f.Type in registration order.
func (m *Manager) dispatch(f Frame) {
	listeners, ok := m.handlers.snapshot(f.Type)
	if !ok {
		m.logger.Warn("no handler for frame, dropping",
			"type", f.Type,
			"registered", m.handlers.keys(),
		)
		return
	}

	for i, l := range listeners {
		m.invokeHandler(f.Type, i, l.fn.(Handler), f.Data)
	}
}

func (m *Manager) invokeHandler(frameType string, index int, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("frame handler panicked",
				"type", frameType,
				"handler", index,
				"panic", r,
			)
		}
	}()

	if err := h(payload); err != nil {
		m.logger.Error("frame handler failed",
			"type", frameType,
			"handler", index,
			"error", err,
		)
	}
}

// emit notifies lifecycle listeners. Never call with m.mu held.
func (m *Manager) emit(ev Event) {
	listeners, ok := m.events.snapshot(ev.Type)
	if !ok {
		return
	}

	for _, l := range listeners {
		m.invokeEventHandler(ev, l.fn.(EventHandler))
	}
}

func (m *Manager) invokeEventHandler(ev Event, h EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "event", ev.Type, "panic", r)
		}
	}()

	h(ev)
}
