// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns a single WebSocket to the chat server per user session
//   - Sends ping frames and force-closes the socket when pongs stop arriving
//   - Reconnects with capped exponential backoff, giving up after MaxReconnectAttempts
//   - Routes inbound frames to subscribers by their "type" discriminator
//   - Reports connected, disconnected, error and reconnect_failed lifecycle events
package connection
