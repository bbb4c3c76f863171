package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"pyrechat/internal/connection"
	"pyrechat/internal/relay"
	"pyrechat/internal/session"
)

// EnvPrefix namespaces every environment variable the binaries read.
const EnvPrefix = "PYRE_"

const (
	TransportGorilla = "gorilla"
	TransportCoder   = "coder"
)

// Config is the merged configuration: defaults, then the YAML file, then
// PYRE_* environment variables. CLI flags are applied last by the commands.
type Config struct {
	Client ClientConfig `yaml:"client" envPrefix:"CLIENT_"`
	Relay  RelayConfig  `yaml:"relay" envPrefix:"RELAY_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

// ClientConfig defines the parameters the chat client needs.
type ClientConfig struct {
	Endpoint         string          `yaml:"endpoint" env:"ENDPOINT"`
	Transport        string          `yaml:"transport" env:"TRANSPORT"`
	Token            string          `yaml:"-" env:"TOKEN"`
	TokenFile        string          `yaml:"token_file" env:"TOKEN_FILE"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration   `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Linger           time.Duration   `yaml:"linger" env:"LINGER"`
	ReadLimit        int64           `yaml:"read_limit" env:"READ_LIMIT"`
	Reconnect        ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
}

type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
}

// Policy converts the config into the session's reconnect policy.
func (r ReconnectConfig) Policy() session.ReconnectPolicy {
	p := session.DefaultReconnectPolicy()
	p.Enabled = r.Enabled
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialInterval > 0 {
		p.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		p.MaxInterval = r.MaxInterval
	}
	return p
}

// RelayConfig defines how the relay backend should run.
type RelayConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Path     string        `yaml:"path" env:"PATH"`
	DBPath   string        `yaml:"db_path" env:"DB_PATH"`
	Secret   string        `yaml:"-" env:"SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	// File receives client logs; the TUI owns the terminal.
	File string `yaml:"file" env:"FILE"`
	// Format is auto, console or json.
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := session.DefaultReconnectPolicy()
	return Config{
		Client: ClientConfig{
			Endpoint:         "ws://localhost:8000" + relay.DefaultPath,
			Transport:        TransportGorilla,
			TokenFile:        DefaultTokenPath(),
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			Linger:           500 * time.Millisecond,
			ReadLimit:        connection.DefaultReadLimit,
			Reconnect: ReconnectConfig{
				Enabled:         policy.Enabled,
				MaxAttempts:     policy.MaxAttempts,
				InitialInterval: policy.InitialInterval,
				MaxInterval:     policy.MaxInterval,
			},
		},
		Relay: RelayConfig{
			Addr:     ":8000",
			Path:     relay.DefaultPath,
			DBPath:   DefaultDBPath(),
			TokenTTL: relay.DefaultTokenTTL,
		},
		Log: LogConfig{
			Level:  "info",
			File:   DefaultLogPath(),
			Format: "auto",
		},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path the default config file is read only if present.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	cfg.Relay.Path = NormalizePath(cfg.Relay.Path)
	return cfg, nil
}

// NormalizePath guarantees the websocket path starts with '/' and falls
// back to the default relay path when empty.
func NormalizePath(path string) string {
	if path == "" {
		return relay.DefaultPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pyrechat")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pyrechat")
	}
	return filepath.Join(".", ".pyrechat")
}

func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultTokenPath is where login stores the session credential.
func DefaultTokenPath() string {
	return filepath.Join(configDir(), "session.json")
}

// DefaultDBPath returns a per-user data path for the relay's SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("PYRE_DATA_DIR"); env != "" {
		return filepath.Join(env, "pyrechat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pyrechat", "pyrechat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Pyrechat", "pyrechat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Pyrechat", "pyrechat.db")
		}
		return filepath.Join(home, ".local", "share", "pyrechat", "pyrechat.db")
	}
	return filepath.Join(".", ".pyrechat", "pyrechat.db")
}

// DefaultLogPath is the client's rotating log file.
func DefaultLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pyrechat", "pyrechat.log")
	}
	if home, err := os.UserHomeDir(); err == nil && runtime.GOOS != "windows" {
		return filepath.Join(home, ".local", "state", "pyrechat", "pyrechat.log")
	}
	return filepath.Join(os.TempDir(), "pyrechat.log")
}
