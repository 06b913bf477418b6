package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by [applyDefaults] to any zero-valued field, per
// the protocol spec's configuration defaults.
const (
	DefaultConnectTimeout       = 30 * time.Second
	DefaultMaxReconnectAttempts = 6
	DefaultLivenessInterval     = 30 * time.Second
	DefaultSendWaitTimeout      = 30 * time.Second
	DefaultTrackerCapacity      = 100
	DefaultSweepInterval        = 60 * time.Second
	DefaultAckTimeout           = 30 * time.Second
	DefaultBufferSamples        = 4096
	DefaultRequestedSampleRate  = 16000
	DefaultAudioStartTimeout    = 10 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r, applies defaults to any
// zero-valued field, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills every zero-valued tunable with its protocol-spec
// default so a caller's YAML only needs to override what differs from the
// defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	t := &cfg.Transport
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.MaxReconnectAttempts == 0 {
		t.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if len(t.ReconnectDelays) == 0 {
		t.ReconnectDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	}
	if t.LivenessInterval <= 0 {
		t.LivenessInterval = DefaultLivenessInterval
	}
	if t.SendWaitTimeout <= 0 {
		t.SendWaitTimeout = DefaultSendWaitTimeout
	}

	tr := &cfg.Tracker
	if tr.Capacity == 0 {
		tr.Capacity = DefaultTrackerCapacity
	}
	if tr.SweepInterval <= 0 {
		tr.SweepInterval = DefaultSweepInterval
	}
	if tr.DefaultAckTimeout <= 0 {
		tr.DefaultAckTimeout = DefaultAckTimeout
	}

	c := &cfg.Capture
	if c.BufferSamples == 0 {
		c.BufferSamples = DefaultBufferSamples
	}
	if c.RequestedSampleRate == 0 {
		c.RequestedSampleRate = DefaultRequestedSampleRate
	}

	s := &cfg.Session
	if s.AudioStartTimeout <= 0 {
		s.AudioStartTimeout = DefaultAudioStartTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	}
	if cfg.Transport.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("transport.max_reconnect_attempts must be non-negative"))
	}
	for i, d := range cfg.Transport.ReconnectDelays {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("transport.reconnect_delays[%d] must be positive", i))
		}
	}

	if cfg.Tracker.Capacity <= 0 {
		errs = append(errs, errors.New("tracker.capacity must be positive"))
	}

	if cfg.Capture.BufferSamples <= 0 {
		errs = append(errs, errors.New("capture.buffer_samples must be positive"))
	}
	if cfg.Capture.RequestedSampleRate <= 0 || cfg.Capture.RequestedSampleRate > 192000 {
		errs = append(errs, errors.New("capture.requested_sample_rate must be in (0, 192000]"))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr is required when metrics.enabled is true"))
	}

	return errors.Join(errs...)
}
