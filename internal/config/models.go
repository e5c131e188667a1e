package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Presence backends
const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
	PresenceSQL    = "sql"
)

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Presence  PresenceConfig  `mapstructure:"presence" yaml:"presence"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
}

// ServerConfig controls the TCP listener and connection timeouts
type ServerConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`                                 // Empty = all interfaces
	Port               int           `mapstructure:"port" yaml:"port"`                                 // 0 = pick a free port
	ReceiveTimeout     time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout"`           // Idle read window (heartbeat)
	SendTimeout        time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`                 // Per-message write window
	AcceptPollInterval time.Duration `mapstructure:"accept_poll_interval" yaml:"accept_poll_interval"` // Max time between reap scans
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`         // Bound on graceful shutdown
}

// Addr returns the host:port listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// HTTPConfig controls the HTTP side listener serving /healthz, /status and
// the WebSocket gateway
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // Empty = no HTTP listener
}

// WebSocketConfig controls the optional WebSocket gateway, mounted on the
// HTTP listener
type WebSocketConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the log sink
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"` // debug, info, warn, error, off
	Console    bool   `mapstructure:"console" yaml:"console"`
	Dir        string `mapstructure:"dir" yaml:"dir"`   // Empty = no log file
	File       string `mapstructure:"file" yaml:"file"` // Empty = timestamped name
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// PresenceConfig selects and configures the presence store
type PresenceConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
	SQL     SQLConfig   `mapstructure:"sql" yaml:"sql"`
}

// RedisConfig configures the Redis presence backend
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password,omitempty"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// SQLConfig configures the SQL presence backend
type SQLConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// DiscoveryConfig controls mDNS advertisement
type DiscoveryConfig struct {
	Advertise bool   `mapstructure:"advertise" yaml:"advertise"`
	Instance  string `mapstructure:"instance" yaml:"instance"`
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "",
			Port:               6000,
			ReceiveTimeout:     10 * time.Second,
			SendTimeout:        10 * time.Second,
			AcceptPollInterval: 50 * time.Millisecond,
			ShutdownTimeout:    10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:6080",
		},
		WebSocket: WebSocketConfig{
			Enabled: false,
			Path:    "/ws",
		},
		Log: LogConfig{
			Level:      "info",
			Console:    true,
			Dir:        "logs",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		Presence: PresenceConfig{
			Backend: PresenceMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "jsonwire:",
			},
			SQL: SQLConfig{
				Driver: "sqlite",
				DSN:    "jsonwire-presence.db",
			},
		},
		Discovery: DiscoveryConfig{
			Advertise: false,
			Instance:  "jsonwire",
		},
	}
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 0 and 65535", c.Server.Port)
	}
	if c.Server.ReceiveTimeout <= 0 {
		return fmt.Errorf("invalid server.receive_timeout %s: must be positive", c.Server.ReceiveTimeout)
	}
	if c.Server.SendTimeout <= 0 {
		return fmt.Errorf("invalid server.send_timeout %s: must be positive", c.Server.SendTimeout)
	}
	if c.Server.AcceptPollInterval <= 0 {
		return fmt.Errorf("invalid server.accept_poll_interval %s: must be positive", c.Server.AcceptPollInterval)
	}

	switch c.Presence.Backend {
	case PresenceMemory:
	case PresenceRedis:
		if c.Presence.Redis.Addr == "" {
			return fmt.Errorf("presence.redis.addr is required for the redis backend")
		}
	case PresenceSQL:
		if c.Presence.SQL.DSN == "" {
			return fmt.Errorf("presence.sql.dsn is required for the sql backend")
		}
		if c.Presence.SQL.Driver != "sqlite" {
			return fmt.Errorf("unsupported presence.sql.driver %q (supported: sqlite)", c.Presence.SQL.Driver)
		}
	default:
		return fmt.Errorf("unknown presence.backend %q (supported: memory, redis, sql)", c.Presence.Backend)
	}

	if c.WebSocket.Enabled {
		if c.WebSocket.Path == "" {
			return fmt.Errorf("websocket.path is required when the gateway is enabled")
		}
		if c.HTTP.Addr == "" {
			return fmt.Errorf("http.addr is required when the gateway is enabled")
		}
	}

	return nil
}
