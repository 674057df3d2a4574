package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults fail validation: %v", err)
	}
	if cfg.Outbox.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Outbox.MaxRetries)
	}
	want := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for i, d := range want {
		if cfg.Outbox.Backoff[i].Duration != d {
			t.Errorf("backoff[%d] = %v, want %v", i, cfg.Outbox.Backoff[i].Duration, d)
		}
	}
	if cfg.Typing.TTL.Duration != 5*time.Second {
		t.Errorf("typing ttl = %v, want 5s", cfg.Typing.TTL.Duration)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Server.UserID = "u1"
	cfg.Server.Token = "tok"
	cfg.Sync.FetchWindow = 100
	cfg.Outbox.FlushInterval = Duration{45 * time.Second}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultSession != "work" || loaded.Server.UserID != "u1" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Sync.FetchWindow != 100 {
		t.Errorf("fetch_window = %d, want 100", loaded.Sync.FetchWindow)
	}
	if loaded.Outbox.FlushInterval.Duration != 45*time.Second {
		t.Errorf("flush_interval = %v, want 45s", loaded.Outbox.FlushInterval.Duration)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := `
[server]
base_url = "https://chat.internal:8443"
realtime_url = "wss://chat.internal:8443/stream"
`
	if err := os.WriteFile(path, []byte(partial), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "https://chat.internal:8443" {
		t.Errorf("base_url = %q", cfg.Server.BaseURL)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Outbox.MaxRetries != 3 || cfg.Sync.FetchWindow != 50 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("error %v not an IsNotExist", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad base url", func(c *Config) { c.Server.BaseURL = "not a url" }},
		{"empty realtime url", func(c *Config) { c.Server.RealtimeURL = "" }},
		{"zero fetch window", func(c *Config) { c.Sync.FetchWindow = 0 }},
		{"zero max retries", func(c *Config) { c.Outbox.MaxRetries = 0 }},
		{"empty backoff", func(c *Config) { c.Outbox.Backoff = nil }},
		{"decreasing backoff", func(c *Config) {
			c.Outbox.Backoff = []Duration{{300 * time.Second}, {60 * time.Second}}
		}},
		{"sweep exceeds ttl", func(c *Config) {
			c.Typing.SweepInterval = Duration{10 * time.Second}
		}},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("parsed %v, want 90s", d.Duration)
	}
	out, err := Duration{5 * time.Minute}.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "5m0s" {
		t.Errorf("marshaled %q", out)
	}
}
