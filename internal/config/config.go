// Package config provides the configuration schema and loader for voxcore.
package config

import "time"

// LogLevel controls log verbosity for the voxcore client.
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

// Config is the root configuration structure for voxcore.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Transport TransportConfig `yaml:"transport"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Capture   CaptureConfig   `yaml:"capture"`
	Session   SessionConfig   `yaml:"session"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportConfig configures the transport client (C1).
type TransportConfig struct {
	// URL is the voice server's websocket endpoint.
	URL string `yaml:"url"`

	// ConnectTimeout bounds a single dial attempt. Default 30s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxReconnectAttempts is the hard ceiling on reconnect attempts before
	// giving up and transitioning to the error state. Default 6.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectDelays is the fixed backoff schedule; the last entry repeats
	// for any attempt beyond the list's length. Default 2s, 5s, 10s.
	ReconnectDelays []time.Duration `yaml:"reconnect_delays"`

	// LivenessInterval is how often a connected client pings the server.
	// Default 30s.
	LivenessInterval time.Duration `yaml:"liveness_interval"`

	// SendWaitTimeout bounds how long a latent Send waits for a triggered
	// connection attempt to resolve. Default 30s.
	SendWaitTimeout time.Duration `yaml:"send_wait_timeout"`
}

// TrackerConfig configures the request tracker (C5).
type TrackerConfig struct {
	// Capacity is the maximum number of pending acknowledgments tracked at
	// once. Default 100.
	Capacity int `yaml:"capacity"`

	// SweepInterval is how often the background sweep checks for entries
	// whose timer firing was lost. Default 60s.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DefaultAckTimeout is used by send_with_ack callers that do not supply
	// their own timeout. Default 30s.
	DefaultAckTimeout time.Duration `yaml:"default_ack_timeout"`
}

// CaptureConfig configures the capture pipeline (C7).
type CaptureConfig struct {
	// BufferSamples is the fixed block size delivered to the frame handler.
	// Default 4096.
	BufferSamples int `yaml:"buffer_samples"`

	// RequestedSampleRate is the sample-rate hint passed to Start; the
	// device may return a different actual rate. Default 16000.
	RequestedSampleRate int `yaml:"requested_sample_rate"`
}

// SessionConfig configures session-level defaults (C6, C10).
type SessionConfig struct {
	// Language is sent as a hint on audio.start payloads.
	Language string `yaml:"language"`

	// AudioStartTimeout is the send_with_ack timeout used for audio.start
	// and audio.end. Default 10s.
	AudioStartTimeout time.Duration `yaml:"audio_start_timeout"`
}

// MetricsConfig configures the OpenTelemetry metrics exporter.
type MetricsConfig struct {
	// Enabled turns on the Prometheus exporter.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the address the Prometheus scrape endpoint listens on.
	ListenAddr string `yaml:"listen_addr"`
}
