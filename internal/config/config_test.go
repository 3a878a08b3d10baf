package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if config.Modem.SampleRate != 48000 {
		t.Errorf("Expected 48000 Hz default sample rate, got %d", config.Modem.SampleRate)
	}

	if config.Device.Backend != "air" {
		t.Errorf("Expected air default backend, got %s", config.Device.Backend)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "block size too small",
			modify:      func(c *Config) { c.Modem.BlockSize = 0 },
			expectError: true,
			errorMsg:    "modem config",
		},
		{
			name:        "top tone above nyquist",
			modify:      func(c *Config) { c.Modem.BaseFrequency = 23000 },
			expectError: true,
			errorMsg:    "modem config",
		},
		{
			name:        "buffer larger than its cap",
			modify:      func(c *Config) { c.Receiver.MaxBufferedBlocks = 1 },
			expectError: true,
			errorMsg:    "max_buffered_blocks",
		},
		{
			name:        "zero stall timeout",
			modify:      func(c *Config) { c.Receiver.FrameStallTimeout = 0 },
			expectError: true,
			errorMsg:    "frame_stall_timeout must be positive",
		},
		{
			name:        "max listen below default",
			modify:      func(c *Config) { c.Session.MaxListenTimeout = 1 },
			expectError: true,
			errorMsg:    "max_listen_timeout",
		},
		{
			name:        "unknown backend",
			modify:      func(c *Config) { c.Device.Backend = "alsa" },
			expectError: true,
			errorMsg:    "backend must be 'air' or 'wav'",
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "disabled http ignores the port",
			modify: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
			expectError: false,
		},
		{
			name:        "negative rate limit",
			modify:      func(c *Config) { c.HTTP.RateLimit = -1 },
			expectError: true,
			errorMsg:    "rate_limit cannot be negative",
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.HTTP.RateLimit = 1
				c.HTTP.RateBurst = 0
			},
			expectError: true,
			errorMsg:    "rate_burst must be at least 1",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "logging config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
modem:
  sample_rate: 48000
  block_size: 240
  base_frequency: 2400
  tone_spacing: 400
  tone_blocks: 6
  guard_blocks: 3
  lead_in_blocks: 4
  amplitude: 0.5
  min_amplitude: 0.02
  dominance: 0.45
receiver:
  buffer_blocks: 2
  max_buffered_blocks: 64
  frame_stall_timeout: 0.5
session:
  default_listen_timeout: 5
  max_listen_timeout: 30
device:
  backend: "wav"
  wav:
    output_dir: "./recordings"
    input_path: "./response.wav"
http:
  enabled: true
  address: "0.0.0.0"
  port: 8090
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			expectError: false,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
logging:
  level: "warn"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
modem:
  sample_rate: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid device section",
			configYAML: `
device:
  backend: "wav"
  wav:
    output_dir: ""
`,
			expectError: true,
			errorMsg:    "wav.output_dir cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadMergesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("session:\n  default_listen_timeout: 2\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Session.GetDefaultListenTimeout() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", config.Session.GetDefaultListenTimeout())
	}

	if config.Session.GetMaxListenTimeout() != 30*time.Second {
		t.Errorf("Expected default 30 seconds, got %v", config.Session.GetMaxListenTimeout())
	}

	if config.Modem.ToneBlocks != 6 {
		t.Errorf("Expected default tone_blocks 6, got %d", config.Modem.ToneBlocks)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	receiver := ReceiverConfig{FrameStallTimeout: 0.25}
	if receiver.GetFrameStallTimeout() != 250*time.Millisecond {
		t.Errorf("Expected 0.25 seconds, got %v", receiver.GetFrameStallTimeout())
	}

	session := SessionConfig{DefaultListenTimeout: 1.5, MaxListenTimeout: 10}
	if session.GetDefaultListenTimeout() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", session.GetDefaultListenTimeout())
	}
	if session.GetMaxListenTimeout() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", session.GetMaxListenTimeout())
	}

	air := AirConfig{Retention: 2}
	if air.GetRetention() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", air.GetRetention())
	}

	http := HTTPConfig{ShutdownTimeout: 10}
	if http.GetShutdownTimeout() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", http.GetShutdownTimeout())
	}
}

func TestConversions(t *testing.T) {
	config := Default()
	config.Receiver.FrameStallTimeout = 0.75
	config.Session.MaxListenTimeout = 12

	sc := config.ToSession()
	if err := sc.Validate(); err != nil {
		t.Fatalf("Expected converted session config to be valid, got: %v", err)
	}

	if sc.MaxListenTimeout != 12*time.Second {
		t.Errorf("Expected 12 seconds, got %v", sc.MaxListenTimeout)
	}

	if sc.Receiver.FrameStallTimeout != 750*time.Millisecond {
		t.Errorf("Expected 0.75 seconds, got %v", sc.Receiver.FrameStallTimeout)
	}

	if sc.Receiver.Modem != config.Modem.ToAudio() {
		t.Errorf("Expected receiver modem config to match the modem section")
	}
}

func TestDeviceConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config DeviceConfig
		valid  bool
	}{
		{
			name:   "valid air",
			config: DeviceConfig{Backend: "air", Name: "a", Air: AirConfig{NoiseLevel: 0.01, Retention: 2}},
			valid:  true,
		},
		{
			name:   "air without endpoint name",
			config: DeviceConfig{Backend: "air", Air: AirConfig{Retention: 2}},
			valid:  false,
		},
		{
			name:   "negative noise",
			config: DeviceConfig{Backend: "air", Name: "a", Air: AirConfig{NoiseLevel: -1, Retention: 2}},
			valid:  false,
		},
		{
			name:   "negative drop interval",
			config: DeviceConfig{Backend: "air", Name: "a", Air: AirConfig{DropEvery: -1, Retention: 2}},
			valid:  false,
		},
		{
			name:   "zero retention",
			config: DeviceConfig{Backend: "air", Name: "a"},
			valid:  false,
		},
		{
			name:   "valid wav without input",
			config: DeviceConfig{Backend: "wav", WAV: WAVConfig{OutputDir: "out"}},
			valid:  true,
		},
		{
			name:   "empty backend",
			config: DeviceConfig{},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to stderr",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "stderr",
			},
			valid: true,
		},
		{
			name: "valid rotating file",
			config: LoggingConfig{
				Level:      "info",
				Format:     "json",
				Output:     "/var/log/proximity.log",
				MaxSizeMB:  50,
				MaxBackups: 2,
			},
			valid: true,
		},
		{
			name: "file without size limit",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "/var/log/proximity.log",
			},
			valid: false,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
