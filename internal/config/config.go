// ABOUTME: Client configuration schema and defaults
// ABOUTME: Engine endpoint, audio formats and logging settings
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/Resonate-Protocol/voicecall-go/pkg/audio"
	"github.com/Resonate-Protocol/voicecall-go/pkg/protocol"
)

// LogLevel controls log verbosity
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching slog level, defaulting to info
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Backend selects the playback implementation
type Backend string

const (
	BackendOto   Backend = "oto"
	BackendMalgo Backend = "malgo"
)

// IsValid reports whether b is a known backend
func (b Backend) IsValid() bool {
	return b == BackendOto || b == BackendMalgo
}

// Config is the root configuration
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives all log output.
	LogFile string `yaml:"log_file"`

	Engine   EngineConfig   `yaml:"engine"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// EngineConfig describes the remote voice engine
type EngineConfig struct {
	// URL is the websocket endpoint. Empty means discover one via mDNS.
	URL string `yaml:"url"`

	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	SystemInstruction string `yaml:"system_instruction"`

	// CredentialEnv names the environment variable holding the API key.
	// The key itself is never read from the file.
	CredentialEnv string `yaml:"credential_env"`

	SetupTimeout     time.Duration `yaml:"setup_timeout"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	SendQueue        int           `yaml:"send_queue"`
}

// CaptureConfig describes the microphone
type CaptureConfig struct {
	DeviceRate int `yaml:"device_rate"`
	Channels   int `yaml:"channels"`
	BlockSize  int `yaml:"block_size"`
}

// PlaybackConfig describes the speaker
type PlaybackConfig struct {
	Backend Backend `yaml:"backend"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9464"
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		LogFile:  "voicecall.log",
		Engine: EngineConfig{
			URL:              "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:            "models/gemini-2.0-flash-live-001",
			CredentialEnv:    "GEMINI_API_KEY",
			SetupTimeout:     protocol.DefaultSetupTimeout,
			DiscoveryTimeout: 5 * time.Second,
			SendQueue:        protocol.DefaultSendQueue,
		},
		Capture: CaptureConfig{
			DeviceRate: audio.CaptureRate,
			Channels:   1,
			BlockSize:  audio.BlockSize,
		},
		Playback: PlaybackConfig{
			Backend: BackendOto,
		},
	}
}

// Credential reads the API key from the configured environment variable
func (c *Config) Credential() string {
	if c.Engine.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(c.Engine.CredentialEnv)
}
