package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() does not validate: %v", err)
	}

	if cfg.Sender.AudioPort != 5004 {
		t.Errorf("default audio_port = %d, want 5004", cfg.Sender.AudioPort)
	}
	if cfg.Sender.BufferMs != 50 {
		t.Errorf("default buffer_ms = %d, want 50", cfg.Sender.BufferMs)
	}
	if cfg.Sender.SilenceThreshold != 200 {
		t.Errorf("default silence_threshold = %d, want 200", cfg.Sender.SilenceThreshold)
	}
	if cfg.Sender.QueueDepth != 50 {
		t.Errorf("default queue_depth = %d, want 50", cfg.Sender.QueueDepth)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sender:
  audio_port: 6000
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sender.AudioPort != 6000 {
		t.Errorf("audio_port = %d, want 6000", cfg.Sender.AudioPort)
	}
	// Unset fields keep their defaults.
	if cfg.Sender.BufferMs != 50 {
		t.Errorf("buffer_ms = %d, want default 50", cfg.Sender.BufferMs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log format = %q, want default text", cfg.Log.Format)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded on missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero audio port", func(c *Config) { c.Sender.AudioPort = 0 }},
		{"port without room for time port", func(c *Config) { c.Sender.AudioPort = 65535 }},
		{"zero buffer", func(c *Config) { c.Sender.BufferMs = 0 }},
		{"huge buffer", func(c *Config) { c.Sender.BufferMs = 10000 }},
		{"negative threshold", func(c *Config) { c.Sender.SilenceThreshold = -1 }},
		{"zero probes", func(c *Config) { c.Sender.SilenceProbes = 0 }},
		{"zero keepalive", func(c *Config) { c.Sender.KeepaliveInterval = 0 }},
		{"zero client timeout", func(c *Config) { c.Sender.ClientTimeout = 0 }},
		{"zero queue depth", func(c *Config) { c.Sender.QueueDepth = 0 }},
		{"bad pin", func(c *Config) { c.Sender.PIN = "12ab56" }},
		{"volume above one", func(c *Config) { c.Receiver.Volume = 1.5 }},
		{"zero heartbeat", func(c *Config) { c.Receiver.HeartbeatInterval = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}

func TestValidateFixedPIN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sender.PIN = "123456"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() rejected valid fixed PIN: %v", err)
	}
}
