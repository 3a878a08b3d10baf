package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/proximity-audio/internal/audio"
	"github.com/skypro1111/proximity-audio/internal/modem"
	"github.com/skypro1111/proximity-audio/internal/session"
)

// defaultListenTimeout is the listen window POST /v1/listen uses without timeout_ms
const defaultListenTimeout = 5 * time.Second

// Config represents the complete service configuration
type Config struct {
	Modem    ModemConfig    `yaml:"modem" json:"modem"`
	Receiver ReceiverConfig `yaml:"receiver" json:"receiver"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Device   DeviceConfig   `yaml:"device" json:"device"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ModemConfig contains the waveform parameters shared by both devices
type ModemConfig struct {
	SampleRate    int     `yaml:"sample_rate" json:"sample_rate"`
	BlockSize     int     `yaml:"block_size" json:"block_size"`         // samples
	BaseFrequency float64 `yaml:"base_frequency" json:"base_frequency"` // Hz
	ToneSpacing   float64 `yaml:"tone_spacing" json:"tone_spacing"`     // Hz
	ToneBlocks    int     `yaml:"tone_blocks" json:"tone_blocks"`
	GuardBlocks   int     `yaml:"guard_blocks" json:"guard_blocks"`
	LeadInBlocks  int     `yaml:"lead_in_blocks" json:"lead_in_blocks"`
	Amplitude     float64 `yaml:"amplitude" json:"amplitude"`
	MinAmplitude  float64 `yaml:"min_amplitude" json:"min_amplitude"`
	Dominance     float64 `yaml:"dominance" json:"dominance"`
}

// ReceiverConfig contains receive loop parameters
type ReceiverConfig struct {
	BufferBlocks      int     `yaml:"buffer_blocks" json:"buffer_blocks"`
	MaxBufferedBlocks int     `yaml:"max_buffered_blocks" json:"max_buffered_blocks"`
	FrameStallTimeout float64 `yaml:"frame_stall_timeout" json:"frame_stall_timeout"` // seconds
}

// SessionConfig contains session controller parameters
type SessionConfig struct {
	DefaultListenTimeout float64 `yaml:"default_listen_timeout" json:"default_listen_timeout"` // seconds
	MaxListenTimeout     float64 `yaml:"max_listen_timeout" json:"max_listen_timeout"`         // seconds
}

// DeviceConfig selects and configures the audio backend
type DeviceConfig struct {
	Backend string    `yaml:"backend" json:"backend"` // "air" or "wav"
	Name    string    `yaml:"name" json:"name"`       // endpoint name on the air medium
	Air     AirConfig `yaml:"air" json:"air"`
	WAV     WAVConfig `yaml:"wav" json:"wav"`
}

// AirConfig contains simulated medium parameters
type AirConfig struct {
	NoiseLevel float64 `yaml:"noise_level" json:"noise_level"`
	DropEvery  int     `yaml:"drop_every" json:"drop_every"`
	Retention  float64 `yaml:"retention" json:"retention"` // seconds
	Seed       int64   `yaml:"seed" json:"seed"`
}

// WAVConfig contains file backend parameters
type WAVConfig struct {
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	InputPath string `yaml:"input_path" json:"input_path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int     `yaml:"port" json:"port"`
	Address         string  `yaml:"address" json:"address"`
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	ShutdownTimeout float64 `yaml:"shutdown_timeout" json:"shutdown_timeout"` // seconds
	RateLimit       float64 `yaml:"rate_limit" json:"rate_limit"`             // session requests per second, 0 disables
	RateBurst       int     `yaml:"rate_burst" json:"rate_burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default returns a runnable configuration using the simulated medium
func Default() *Config {
	m := audio.DefaultModemConfig()
	r := modem.DefaultReceiverConfig()
	s := session.DefaultConfig()

	return &Config{
		Modem: ModemConfig{
			SampleRate:    m.SampleRate,
			BlockSize:     m.BlockSize,
			BaseFrequency: m.BaseFrequency,
			ToneSpacing:   m.ToneSpacing,
			ToneBlocks:    m.ToneBlocks,
			GuardBlocks:   m.GuardBlocks,
			LeadInBlocks:  m.LeadInBlocks,
			Amplitude:     m.Amplitude,
			MinAmplitude:  m.MinAmplitude,
			Dominance:     m.Dominance,
		},
		Receiver: ReceiverConfig{
			BufferBlocks:      r.BufferBlocks,
			MaxBufferedBlocks: r.MaxBufferedBlocks,
			FrameStallTimeout: r.FrameStallTimeout.Seconds(),
		},
		Session: SessionConfig{
			DefaultListenTimeout: defaultListenTimeout.Seconds(),
			MaxListenTimeout:     s.MaxListenTimeout.Seconds(),
		},
		Device: DeviceConfig{
			Backend: "air",
			Name:    "local",
			Air: AirConfig{
				NoiseLevel: 0.005,
				Retention:  2,
			},
			WAV: WAVConfig{
				OutputDir: "recordings",
			},
		},
		HTTP: HTTPConfig{
			Port:            8090,
			Address:         "127.0.0.1",
			Enabled:         true,
			ShutdownTimeout: 10,
			RateLimit:       2,
			RateBurst:       4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Modem.Validate(); err != nil {
		return fmt.Errorf("modem config: %w", err)
	}

	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if err := c.ToReceiver().Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates modem configuration
func (m *ModemConfig) Validate() error {
	return m.ToAudio().Validate()
}

// Validate validates receiver configuration
func (r *ReceiverConfig) Validate() error {
	if r.BufferBlocks < 1 {
		return fmt.Errorf("buffer_blocks must be at least 1, got %d", r.BufferBlocks)
	}

	if r.MaxBufferedBlocks < r.BufferBlocks {
		return fmt.Errorf("max_buffered_blocks (%d) must be at least buffer_blocks (%d)",
			r.MaxBufferedBlocks, r.BufferBlocks)
	}

	if r.FrameStallTimeout <= 0 {
		return fmt.Errorf("frame_stall_timeout must be positive, got %f", r.FrameStallTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.DefaultListenTimeout <= 0 {
		return fmt.Errorf("default_listen_timeout must be positive, got %f", s.DefaultListenTimeout)
	}

	if s.MaxListenTimeout < s.DefaultListenTimeout {
		return fmt.Errorf("max_listen_timeout (%f) must be at least default_listen_timeout (%f)",
			s.MaxListenTimeout, s.DefaultListenTimeout)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	switch d.Backend {
	case "air":
		if d.Name == "" {
			return fmt.Errorf("name cannot be empty for the air backend")
		}
		if d.Air.NoiseLevel < 0 {
			return fmt.Errorf("air.noise_level cannot be negative, got %f", d.Air.NoiseLevel)
		}
		if d.Air.DropEvery < 0 {
			return fmt.Errorf("air.drop_every cannot be negative, got %d", d.Air.DropEvery)
		}
		if d.Air.Retention <= 0 {
			return fmt.Errorf("air.retention must be positive, got %f", d.Air.Retention)
		}
	case "wav":
		if d.WAV.OutputDir == "" {
			return fmt.Errorf("wav.output_dir cannot be empty")
		}
	default:
		return fmt.Errorf("backend must be 'air' or 'wav', got '%s'", d.Backend)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %f", h.ShutdownTimeout)
	}

	if h.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative, got %f", h.RateLimit)
	}

	if h.RateLimit > 0 && h.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set, got %d", h.RateBurst)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.IsFile() {
		if l.MaxSizeMB < 1 {
			return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
		}
		if l.MaxBackups < 0 || l.MaxAgeDays < 0 {
			return fmt.Errorf("max_backups and max_age_days cannot be negative")
		}
	}

	return nil
}

// IsFile reports whether logs go to a file rather than a standard stream
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// ToAudio converts to the waveform parameter set
func (m *ModemConfig) ToAudio() audio.ModemConfig {
	return audio.ModemConfig{
		SampleRate:    m.SampleRate,
		BlockSize:     m.BlockSize,
		BaseFrequency: m.BaseFrequency,
		ToneSpacing:   m.ToneSpacing,
		ToneBlocks:    m.ToneBlocks,
		GuardBlocks:   m.GuardBlocks,
		LeadInBlocks:  m.LeadInBlocks,
		Amplitude:     m.Amplitude,
		MinAmplitude:  m.MinAmplitude,
		Dominance:     m.Dominance,
	}
}

// ToReceiver builds the receive loop configuration
func (c *Config) ToReceiver() modem.ReceiverConfig {
	return modem.ReceiverConfig{
		Modem:             c.Modem.ToAudio(),
		BufferBlocks:      c.Receiver.BufferBlocks,
		MaxBufferedBlocks: c.Receiver.MaxBufferedBlocks,
		FrameStallTimeout: c.Receiver.GetFrameStallTimeout(),
	}
}

// ToSession builds the session controller configuration
func (c *Config) ToSession() session.Config {
	return session.Config{
		Receiver:         c.ToReceiver(),
		MaxListenTimeout: c.Session.GetMaxListenTimeout(),
	}
}

// GetFrameStallTimeout returns the stall timeout as a time.Duration
func (r *ReceiverConfig) GetFrameStallTimeout() time.Duration {
	return time.Duration(r.FrameStallTimeout * float64(time.Second))
}

// GetDefaultListenTimeout returns the default listen window as a time.Duration
func (s *SessionConfig) GetDefaultListenTimeout() time.Duration {
	return time.Duration(s.DefaultListenTimeout * float64(time.Second))
}

// GetMaxListenTimeout returns the maximum listen window as a time.Duration
func (s *SessionConfig) GetMaxListenTimeout() time.Duration {
	return time.Duration(s.MaxListenTimeout * float64(time.Second))
}

// GetRetention returns the medium retention as a time.Duration
func (a *AirConfig) GetRetention() time.Duration {
	return time.Duration(a.Retention * float64(time.Second))
}

// GetShutdownTimeout returns the graceful shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeout * float64(time.Second))
}
