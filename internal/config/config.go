package config

import (
	"time"

	"github.com/rickgao/chat-client/internal/connection"
)

// Config is the root configuration for a chat client.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds chat backend settings.
type ServerConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"` // WebSocket endpoint, without query
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds Connection Manager settings.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`

	// MaxReconnectAttempts is a pointer so an explicit 0 (unlimited) can be
	// told apart from an omitted value.
	MaxReconnectAttempts *int `yaml:"max_reconnect_attempts"`

	PingInterval     time.Duration `yaml:"ping_interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// StoreConfig selects where the cached session lives.
type StoreConfig struct {
	Driver   string   `yaml:"driver"` // memory or postgres
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// ManagerConfig converts the connection section for connection.NewManager.
func (c *Config) ManagerConfig() connection.ManagerConfig {
	cfg := connection.ManagerConfig{
		URL:               c.Server.WSURL,
		ReconnectBaseWait: c.Connection.ReconnectBaseDelay,
		ReconnectMaxWait:  c.Connection.ReconnectMaxDelay,
		PingInterval:      c.Connection.PingInterval,
		HeartbeatTimeout:  c.Connection.HeartbeatTimeout,
		HandshakeTimeout:  c.Connection.HandshakeTimeout,
		WriteTimeout:      c.Connection.WriteTimeout,
	}
	if c.Connection.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *c.Connection.MaxReconnectAttempts
	} else {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return cfg
}
