// Package config provides the configuration schema, loader, and backend
// registry for the Parley voice client.
package config

// LogLevel controls log verbosity for the Parley client.
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

// Config is the root configuration structure for Parley.
type Config struct {
	// Server holds process-wide settings.
	Server ServerConfig `yaml:"server"`

	// Runtime selects and configures the remote conversation backend.
	Runtime RuntimeEntry `yaml:"runtime"`

	// Audio configures the local audio devices and pipeline rates.
	Audio AudioConfig `yaml:"audio"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ObserveAddr is the listen address for the /metrics and health
	// endpoints. Default: "localhost:9090". Empty string after explicit
	// "off" disables the listener.
	ObserveAddr string `yaml:"observe_addr"`
}

// RuntimeEntry selects and configures the remote runtime backend.
type RuntimeEntry struct {
	// Name is the backend to use, e.g. "gateway" or "mock". Default: gateway.
	Name string `yaml:"name"`

	// APIKey is the credential for the backend.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Optional.
	BaseURL string `yaml:"base_url"`

	// AgentID is the agent to call.
	AgentID string `yaml:"agent_id"`

	// OutputSampleRate is the sample rate of agent audio in Hz.
	// Default: 16000.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// AudioConfig configures the local audio pipeline.
type AudioConfig struct {
	// Device is the device backend, e.g. "malgo" or "mock". Default: malgo.
	Device string `yaml:"device"`

	// CaptureRate is the microphone sample rate in Hz. Must be an integer
	// multiple of TargetRate. Default: 48000.
	CaptureRate int `yaml:"capture_rate"`

	// TargetRate is the transmit sample rate in Hz. Default: 16000.
	TargetRate int `yaml:"target_rate"`

	// PlaybackRate is the speaker sample rate in Hz. Default: 16000.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSamples is the number of samples per device buffer.
	// Default: 4096.
	FrameSamples int `yaml:"frame_samples"`
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ObserveAddr == "" {
		cfg.Server.ObserveAddr = "localhost:9090"
	}
	if cfg.Runtime.Name == "" {
		cfg.Runtime.Name = "gateway"
	}
	if cfg.Runtime.OutputSampleRate == 0 {
		cfg.Runtime.OutputSampleRate = 16000
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = "malgo"
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = 48000
	}
	if cfg.Audio.TargetRate == 0 {
		cfg.Audio.TargetRate = 16000
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = 16000
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = 4096
	}
}
