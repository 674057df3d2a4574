package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Duration wraps time.Duration so it can be written as "90s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the global ~/.pchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server  Server  `toml:"server"`
	Sync    Sync    `toml:"sync"`
	Outbox  Outbox  `toml:"outbox"`
	Typing  Typing  `toml:"typing"`
	Network Network `toml:"network"`
}

// Server holds the remote API endpoints and caller identity.
type Server struct {
	BaseURL     string `toml:"base_url" validate:"required,url"`
	RealtimeURL string `toml:"realtime_url" validate:"required,url"`
	UserID      string `toml:"user_id"`
	// Token is passed through to the transport untouched; obtaining and
	// refreshing it belongs to the auth layer, not this core.
	Token string `toml:"token"`
}

// Sync controls reconciliation fetches.
type Sync struct {
	FetchWindow int `toml:"fetch_window" validate:"min=1,max=500"`
}

// Outbox controls retry behavior for unconfirmed sends.
type Outbox struct {
	MaxRetries    int      `toml:"max_retries" validate:"min=1,max=20"`
	FlushInterval Duration `toml:"flush_interval"`
	// Backoff floors per attempt; the last value is the cap for all
	// later attempts.
	Backoff []Duration `toml:"backoff" validate:"min=1"`
}

// Typing controls the active-typist set.
type Typing struct {
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// Network controls reachability probing.
type Network struct {
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			BaseURL:     "https://api.pchat.dev",
			RealtimeURL: "wss://rt.pchat.dev/v1/stream",
		},
		Sync: Sync{FetchWindow: 50},
		Outbox: Outbox{
			MaxRetries:    3,
			FlushInterval: Duration{30 * time.Second},
			Backoff: []Duration{
				{60 * time.Second},
				{300 * time.Second},
				{900 * time.Second},
			},
		},
		Typing: Typing{
			TTL:           Duration{5 * time.Second},
			SweepInterval: Duration{2 * time.Second},
		},
		Network: Network{
			ProbeInterval: Duration{10 * time.Second},
			ProbeTimeout:  Duration{3 * time.Second},
		},
	}
}

// Load reads config from the given path, layering file values over the
// defaults and validating the result. A missing file returns an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field invariants.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i := 1; i < len(c.Outbox.Backoff); i++ {
		if c.Outbox.Backoff[i].Duration < c.Outbox.Backoff[i-1].Duration {
			return fmt.Errorf("invalid config: backoff schedule must be non-decreasing")
		}
	}
	if c.Typing.SweepInterval.Duration > c.Typing.TTL.Duration {
		return fmt.Errorf("invalid config: typing sweep interval exceeds TTL")
	}
	return nil
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
