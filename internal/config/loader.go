package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "jsonwire"
	configName = "config"
	configType = "yaml"

	// EnvPrefix prefixes every environment override, e.g. JSONWIRE_SERVER_PORT
	EnvPrefix = "JSONWIRE"
)

// Loader reads the configuration from defaults, an optional YAML file and the
// environment, and can watch the file for changes.
type Loader struct {
	v    *viper.Viper
	path string

	mu       sync.Mutex
	watching bool
}

// NewLoader creates a Loader. An empty path searches the working directory and
// GetConfigDir for config.yaml; a missing file there is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	return &Loader{v: v, path: path}
}

// Load is a convenience wrapper around NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file found in the search path: defaults + environment only
	}

	return l.decode()
}

// File returns the config file in use, or "" when running on defaults
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-read configuration every time the config
// file is written. Invalid configurations are reported through err and must be
// ignored by the caller. Watch is a no-op when no file is in use.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watching || l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		onChange(cfg, err)
	})
	l.v.WatchConfig()
	l.watching = true
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.receive_timeout", d.Server.ReceiveTimeout)
	v.SetDefault("server.send_timeout", d.Server.SendTimeout)
	v.SetDefault("server.accept_poll_interval", d.Server.AcceptPollInterval)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("presence.backend", d.Presence.Backend)
	v.SetDefault("presence.redis.addr", d.Presence.Redis.Addr)
	v.SetDefault("presence.redis.password", d.Presence.Redis.Password)
	v.SetDefault("presence.redis.db", d.Presence.Redis.DB)
	v.SetDefault("presence.redis.key_prefix", d.Presence.Redis.KeyPrefix)
	v.SetDefault("presence.sql.driver", d.Presence.SQL.Driver)
	v.SetDefault("presence.sql.dsn", d.Presence.SQL.DSN)

	v.SetDefault("discovery.advertise", d.Discovery.Advertise)
	v.SetDefault("discovery.instance", d.Discovery.Instance)
}

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/jsonwire or $HOME/.config/jsonwire
//   - macOS: $HOME/.config/jsonwire
//   - Windows: %LOCALAPPDATA%\jsonwire
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the default config file path
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName+"."+configType), nil
}

// WriteFile writes cfg as YAML to path. The write is atomic: a temp file is
// renamed into place so a crash never leaves a truncated config.
func WriteFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# jsonwire server configuration
#
# Every key can be overridden from the environment with the JSONWIRE_ prefix,
# e.g. JSONWIRE_SERVER_PORT=7000 or JSONWIRE_LOG_LEVEL=debug.
# log.level is re-applied while the server runs when this file changes.

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}
