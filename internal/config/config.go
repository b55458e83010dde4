// Package config provides configuration parsing and validation for AuStream.
package config

import (
	"fmt"
	"os"

	"github.com/RishiIRL/austream/internal/pairing"
	"github.com/RishiIRL/austream/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for either role. A single
// file can carry both sections; each binary reads the one it needs.
type Config struct {
	Sender   SenderConfig   `yaml:"sender"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SenderConfig contains the distribution-side settings.
type SenderConfig struct {
	// ListenAddr is the local address to bind; empty means all interfaces.
	ListenAddr string `yaml:"listen_addr"`

	// AudioPort is the UDP port for control and audio datagrams. The
	// clock-sync port is always AudioPort+1.
	AudioPort int `yaml:"audio_port"`

	// BufferMs is the pre-roll depth suggested to receivers, milliseconds.
	BufferMs int `yaml:"buffer_ms"`

	// SilenceThreshold is the absolute 16-bit sample value at or below
	// which a frame counts as silent.
	SilenceThreshold int `yaml:"silence_threshold"`

	// SilenceProbes is how many samples the gate inspects per frame.
	SilenceProbes int `yaml:"silence_probes"`

	// KeepaliveInterval is the idle span, in seconds, after which a
	// synthetic silence frame is emitted while clients are connected.
	KeepaliveInterval int `yaml:"keepalive_interval"`

	// ClientTimeout is the heartbeat age, in seconds, after which a
	// client is reaped.
	ClientTimeout int `yaml:"client_timeout"`

	// QueueDepth is the per-client send queue capacity in packets.
	QueueDepth int `yaml:"queue_depth"`

	// PIN optionally fixes the session PIN instead of generating a fresh
	// one per session. Must be six decimal digits when set.
	PIN string `yaml:"pin"`
}

// ReceiverConfig contains the playback-side settings.
type ReceiverConfig struct {
	// Volume is the initial linear gain in [0, 1].
	Volume float64 `yaml:"volume"`

	// HeartbeatInterval is the heartbeat period in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Sender: SenderConfig{
			AudioPort:         protocol.DefaultAudioPort,
			BufferMs:          50,
			SilenceThreshold:  200,
			SilenceProbes:     100,
			KeepaliveInterval: 2,
			ClientTimeout:     10,
			QueueDepth:        50,
		},
		Receiver: ReceiverConfig{
			Volume:            1.0,
			HeartbeatInterval: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads a YAML config file and applies defaults to unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	s := &c.Sender

	if s.AudioPort <= 0 || s.AudioPort > 65534 {
		return fmt.Errorf("sender.audio_port %d out of range (the time port binds audio_port+1)", s.AudioPort)
	}
	if s.BufferMs <= 0 || s.BufferMs > 3000 {
		return fmt.Errorf("sender.buffer_ms %d out of range [1, 3000]", s.BufferMs)
	}
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 32767 {
		return fmt.Errorf("sender.silence_threshold %d out of range [0, 32767]", s.SilenceThreshold)
	}
	if s.SilenceProbes <= 0 {
		return fmt.Errorf("sender.silence_probes must be positive, got %d", s.SilenceProbes)
	}
	if s.KeepaliveInterval <= 0 {
		return fmt.Errorf("sender.keepalive_interval must be positive, got %d", s.KeepaliveInterval)
	}
	if s.ClientTimeout <= 0 {
		return fmt.Errorf("sender.client_timeout must be positive, got %d", s.ClientTimeout)
	}
	if s.QueueDepth <= 0 {
		return fmt.Errorf("sender.queue_depth must be positive, got %d", s.QueueDepth)
	}
	if s.PIN != "" && !pairing.ValidPIN(s.PIN) {
		return fmt.Errorf("sender.pin must be six decimal digits")
	}

	r := &c.Receiver
	if r.Volume < 0 || r.Volume > 1 {
		return fmt.Errorf("receiver.volume %v out of range [0, 1]", r.Volume)
	}
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("receiver.heartbeat_interval must be positive, got %d", r.HeartbeatInterval)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q unknown", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr required when metrics are enabled")
	}

	return nil
}
