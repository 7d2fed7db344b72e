package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "http://127.0.0.1:8080"
	DefaultWSURL                = "ws://127.0.0.1:8080/ws/connect"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultPingInterval         = 30 * time.Second
	DefaultHeartbeatTimeout     = 60 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStoreDriver          = StoreMemory
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultLogLevel             = "info"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.RestURL == "" {
		c.Server.RestURL = DefaultRestURL
	}
	if c.Server.WSURL == "" {
		c.Server.WSURL = DefaultWSURL
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultAPITimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Connection.MaxReconnectAttempts = &n
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.HeartbeatTimeout == 0 {
		c.Connection.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == StorePostgres {
		applyDBDefaults(&c.Store.Postgres)
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
