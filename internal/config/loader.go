// ABOUTME: YAML configuration loading and validation
// ABOUTME: Overlays a config file on the defaults and reports every invalid field
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path over the defaults and validates it.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Engine
	if cfg.Engine.URL != "" {
		u, err := url.Parse(cfg.Engine.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("engine.url is invalid: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("engine.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}
	if cfg.Engine.CredentialEnv == "" {
		errs = append(errs, errors.New("engine.credential_env is required"))
	}
	if cfg.Engine.SetupTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.setup_timeout %s must not be negative", cfg.Engine.SetupTimeout))
	}
	if cfg.Engine.DiscoveryTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.discovery_timeout %s must not be negative", cfg.Engine.DiscoveryTimeout))
	}
	if cfg.Engine.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("engine.send_queue %d must not be negative", cfg.Engine.SendQueue))
	}

	// Capture
	if cfg.Capture.DeviceRate < 8000 || cfg.Capture.DeviceRate > 192000 {
		errs = append(errs, fmt.Errorf("capture.device_rate %d is out of range [8000, 192000]", cfg.Capture.DeviceRate))
	}
	if cfg.Capture.Channels < 1 || cfg.Capture.Channels > 8 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 8]", cfg.Capture.Channels))
	}
	if cfg.Capture.BlockSize < 256 {
		errs = append(errs, fmt.Errorf("capture.block_size %d must be at least 256", cfg.Capture.BlockSize))
	}

	// Playback
	if !cfg.Playback.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("playback.backend %q is invalid; valid values: oto, malgo", cfg.Playback.Backend))
	}

	// Metrics
	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr %q is invalid: %w", cfg.Metrics.Addr, err))
		}
	}

	return errors.Join(errs...)
}
