package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), or replays a fixed
// script of chunks.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
	interval  time.Duration

	script []AudioChunk
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithScript makes the mock emit the given chunks in order and then stop.
func WithScript(chunks ...AudioChunk) MockSourceOption {
	return func(m *MockSource) {
		m.script = chunks
	}
}

// WithInterval overrides the delay between generated chunks.
// Zero emits as fast as the reader consumes.
func WithInterval(d time.Duration) MockSourceOption {
	return func(m *MockSource) {
		m.interval = d
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioChunk, 10),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
		interval:  cfg.BlockDuration(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"scripted", len(m.script),
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh <-chan struct{}, out chan<- AudioChunk) {
	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; ; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				m.Stop()
				return
			case <-stopCh:
				return
			case <-tick:
			}
		}

		var chunk AudioChunk
		if m.script != nil {
			if i >= len(m.script) {
				m.Stop()
				return
			}
			chunk = m.script[i]
		} else {
			chunk = m.generateChunk()
		}

		if tick == nil || m.script != nil {
			// Scripted and unpaced output never drops.
			select {
			case <-ctx.Done():
				m.Stop()
				return
			case <-stopCh:
				return
			case out <- chunk:
				m.countRead(chunk)
			}
			continue
		}

		select {
		case out <- chunk:
			m.countRead(chunk)
		default:
			m.overruns.Add(1)
			m.logger.Debug("mock source: buffer full, dropping chunk")
		}
	}
}

func (m *MockSource) countRead(chunk AudioChunk) {
	m.chunksRead.Add(1)
	m.samplesRead.Add(int64(len(chunk.Samples)))
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.BlockSize
	samples := make([]float32, frames*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frames; i++ {
			sample := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sample
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk. It returns io.EOF once the source is
// stopped and its buffer is drained.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	stream, stop := m.streamCh, m.stopCh
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk := <-stream:
		return chunk, nil
	case <-stop:
		select {
		case chunk := <-stream:
			return chunk, nil
		default:
			return AudioChunk{}, io.EOF
		}
	}
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// PlayCall records one MockPlayer.Play invocation.
type PlayCall struct {
	Samples    []float32
	SampleRate int
	DeviceID   string
}

// MockPlayer is a mock Player for testing.
// It records every buffer instead of playing it.
type MockPlayer struct {
	mu      sync.Mutex
	devices []OutputDevice
	calls   []PlayCall
	closed  bool

	// Delay simulates playback time per call.
	Delay time.Duration
	// Err, when set, is returned by Play.
	Err error

	refreshes atomic.Int64
}

// NewMockPlayer creates a mock player exposing the given devices.
func NewMockPlayer(devices ...OutputDevice) *MockPlayer {
	return &MockPlayer{devices: devices}
}

// AddDevice makes a device visible to later Devices calls.
func (m *MockPlayer) AddDevice(d OutputDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
}

// Play records the buffer.
func (m *MockPlayer) Play(ctx context.Context, samples []float32, sampleRate int, deviceID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}
	delay, err := m.Delay, m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return err
	}

	buf := make([]float32, len(samples))
	copy(buf, samples)

	m.mu.Lock()
	m.calls = append(m.calls, PlayCall{Samples: buf, SampleRate: sampleRate, DeviceID: deviceID})
	m.mu.Unlock()
	return nil
}

// Calls returns a copy of all recorded Play calls.
func (m *MockPlayer) Calls() []PlayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Devices returns the configured devices.
func (m *MockPlayer) Devices() ([]OutputDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutputDevice, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// Refresh counts refresh requests.
func (m *MockPlayer) Refresh() error {
	m.refreshes.Add(1)
	return nil
}

// Refreshes returns how many times Refresh was called.
func (m *MockPlayer) Refreshes() int64 {
	return m.refreshes.Load()
}

// Close marks the player closed.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Player = (*MockPlayer)(nil)
