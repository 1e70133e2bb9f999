// Package audioio provides audio capture and playback for the translation pipeline.
//
// This package supports two backends:
//   - PulseAudio (Linux) - capture from a microphone, playback to a named sink
//   - Mock - CI/Testing without hardware
//
// Samples are single-channel float32 in [-1, 1] once they leave this package;
// capture chunks keep their native channel count and rate until normalized
// by the pipeline's ingest step.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects PulseAudio when a server is reachable, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendPulse uses a PulseAudio (or pipewire-pulse) server.
	BackendPulse Backend = "pulse"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture sample rate in Hz.
	// Default: 16000 (recognizer rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of capture channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BlockSize is the number of frames delivered per chunk.
	// Default: 512 (32ms at 16kHz)
	BlockSize int `yaml:"block_size" json:"block_size"`

	// Device is the capture source name. Empty uses the server default.
	Device string `yaml:"device" json:"device"`

	// ApplicationName is reported to the audio server.
	ApplicationName string `yaml:"application_name" json:"application_name"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendAuto,
		SampleRate:      16000,
		Channels:        1,
		BlockSize:       512,
		ApplicationName: "transync",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	switch c.Backend {
	case BackendAuto, BackendPulse, BackendMock, "":
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	return nil
}

// BlockDuration returns the duration of one capture chunk.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(float64(c.BlockSize) / float64(c.SampleRate) * float64(time.Second))
}
