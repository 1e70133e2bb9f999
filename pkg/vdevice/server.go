// Package vdevice manages a virtual microphone built from PulseAudio
// modules: a null sink that receives synthesized speech and a remap source
// that exposes the sink's monitor as an ordinary capture device.
package vdevice

import (
	"context"
	"errors"
)

// Kind selects sinks or sources for mute and volume control.
type Kind int

const (
	KindSink Kind = iota
	KindSource
)

func (k Kind) String() string {
	if k == KindSource {
		return "source"
	}
	return "sink"
}

// Module is one loaded audio-server module.
type Module struct {
	Index int
	Name  string
	Args  string
}

// SinkInput is one active playback stream.
type SinkInput struct {
	Index     int
	ProcessID int
}

// AudioServer is the control surface the device manager drives.
type AudioServer interface {
	// LoadModule loads a module and returns its index.
	LoadModule(ctx context.Context, name string, args ...string) (int, error)
	UnloadModule(ctx context.Context, index int) error
	ListModules(ctx context.Context) ([]Module, error)

	// ListSources returns the names of all capture sources.
	ListSources(ctx context.Context) ([]string, error)

	SetMute(ctx context.Context, kind Kind, name string, mute bool) error
	SetVolume(ctx context.Context, kind Kind, name string, percent int) error

	ListSinkInputs(ctx context.Context) ([]SinkInput, error)
	MoveSinkInput(ctx context.Context, index int, sink string) error
}

var (
	// ErrMonitorSource is returned when the capture side would be a monitor device.
	ErrMonitorSource = errors.New("vdevice: source is a monitor, not selectable as a microphone")

	// ErrSourceMissing is returned when the remap source does not appear after loading.
	ErrSourceMissing = errors.New("vdevice: remap source not visible after load")

	// ErrServerUnavailable is returned when the audio server cannot be reached.
	ErrServerUnavailable = errors.New("vdevice: audio server unavailable")
)
