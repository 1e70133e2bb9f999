package audioio

import (
	"context"
	"io"
)

// AudioChunk represents a chunk of captured audio.
type AudioChunk struct {
	// Samples contains interleaved float32 samples.
	Samples []float32

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Clone returns a deep copy of the chunk. Capture backends reuse their
// buffers after a callback returns, so anything crossing a goroutine
// boundary must be cloned first.
func (c AudioChunk) Clone() AudioChunk {
	out := c
	out.Samples = make([]float32, len(c.Samples))
	copy(out.Samples, c.Samples)
	return out
}

// Frames returns the number of frames (samples per channel).
func (c *AudioChunk) Frames() int {
	if c.Channels <= 0 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the duration of this audio chunk in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "pulse", "mock").
	Name() string

	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// OutputDevice is one entry of the playback device enumeration.
type OutputDevice struct {
	// ID is the server-side sink name used to address the device.
	ID string `json:"id"`
	// Description is the human readable name.
	Description string `json:"description"`
}

// Player plays complete buffers to an output device.
type Player interface {
	// Play blocks until samples have been played. An empty deviceID plays
	// on the server's default output.
	Play(ctx context.Context, samples []float32, sampleRate int, deviceID string) error

	// Devices lists the playback devices currently known to the player.
	Devices() ([]OutputDevice, error)

	// Refresh drops any cached device enumeration so newly created
	// devices become visible.
	Refresh() error

	io.Closer
}
