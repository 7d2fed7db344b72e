package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("server.rest_url", c.Server.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("server.ws_url", c.Server.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Server.MaxRetries < 0 {
		return errors.New("server.max_retries must be >= 0")
	}

	conn := c.Connection
	if conn.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if conn.ReconnectMaxDelay < conn.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			conn.ReconnectMaxDelay, conn.ReconnectBaseDelay)
	}
	if conn.MaxReconnectAttempts != nil && *conn.MaxReconnectAttempts < 0 {
		return errors.New("connection.max_reconnect_attempts must be >= 0 (0 means unlimited)")
	}
	if conn.PingInterval <= 0 {
		return errors.New("connection.ping_interval must be > 0")
	}
	if conn.HeartbeatTimeout <= conn.PingInterval {
		return fmt.Errorf("connection.heartbeat_timeout (%s) must exceed ping_interval (%s)",
			conn.HeartbeatTimeout, conn.PingInterval)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Driver)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %v URL, got %q", field, schemes, raw)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps log.level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
