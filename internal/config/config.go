package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultServerURL        = "http://localhost:5000/api"
	DefaultSocketURL        = "ws://localhost:5000/ws"
	DefaultRequestTimeout   = 15 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config represents the global ~/.relay/config.toml.
type Config struct {
	DefaultProfile   string   `toml:"default_profile"`
	ServerURL        string   `toml:"server_url"`
	SocketURL        string   `toml:"socket_url"`
	RequestTimeout   Duration `toml:"request_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	MetricsAddr      string   `toml:"metrics_addr,omitempty"`
}

// Duration is a time.Duration that round-trips through TOML as a string ("15s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerURL:        DefaultServerURL,
		SocketURL:        DefaultSocketURL,
		RequestTimeout:   Duration{DefaultRequestTimeout},
		HandshakeTimeout: Duration{DefaultHandshakeTimeout},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the file
// does not exist, then applies environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overlays RELAY_* environment variables. A .env file in the working
// directory is loaded first when present; real environment variables win.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("RELAY_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("RELAY_SOCKET_URL"); v != "" {
		cfg.SocketURL = v
	}
	if v := os.Getenv("RELAY_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("RELAY_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("RELAY_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestTimeout = Duration{d}
		}
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) fillDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.SocketURL == "" {
		c.SocketURL = DefaultSocketURL
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout = Duration{DefaultRequestTimeout}
	}
	if c.HandshakeTimeout.Duration <= 0 {
		c.HandshakeTimeout = Duration{DefaultHandshakeTimeout}
	}
}
