package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

// PulseSource captures audio from a PulseAudio source.
type PulseSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *pulse.Client
	stream   *pulse.RecordStream
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	pending  []float32

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newPulseSource(cfg Config, logger *slog.Logger) (*PulseSource, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(cfg.ApplicationName))
	if err != nil {
		return nil, fmt.Errorf("connect to pulse server: %w", err)
	}
	return &PulseSource{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		streamCh: make(chan AudioChunk, 32),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins audio capture.
func (p *PulseSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return io.ErrClosedPipe
	}
	if p.running {
		return nil
	}

	opts := []pulse.RecordOption{pulse.RecordSampleRate(p.cfg.SampleRate)}
	if p.cfg.Channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}
	if p.cfg.Device != "" {
		src, err := p.client.SourceByID(p.cfg.Device)
		if err != nil {
			return fmt.Errorf("lookup capture source %q: %w", p.cfg.Device, err)
		}
		opts = append(opts, pulse.RecordSource(src))
	}

	stream, err := p.client.NewRecord(pulse.Float32Writer(p.write), opts...)
	if err != nil {
		return fmt.Errorf("open record stream: %w", err)
	}

	p.stream = stream
	p.stopCh = make(chan struct{})
	p.streamCh = make(chan AudioChunk, 32)
	p.pending = p.pending[:0]
	p.running = true
	stream.Start()

	go func(stop <-chan struct{}) {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-stop:
		}
	}(p.stopCh)

	p.logger.Info("pulse audio source started",
		"sample_rate", p.cfg.SampleRate,
		"channels", p.cfg.Channels,
		"device", p.cfg.Device,
	)
	return nil
}

// write is the record callback. The buffer is owned by the pulse client
// and reused, so samples are copied into pending before returning.
func (p *PulseSource) write(buf []float32) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return len(buf), nil
	}

	p.pending = append(p.pending, buf...)
	blockLen := p.cfg.BlockSize * p.cfg.Channels
	for len(p.pending) >= blockLen {
		chunk := AudioChunk{
			Samples:    make([]float32, blockLen),
			SampleRate: p.cfg.SampleRate,
			Channels:   p.cfg.Channels,
		}
		copy(chunk.Samples, p.pending[:blockLen])
		p.pending = append(p.pending[:0], p.pending[blockLen:]...)

		select {
		case p.streamCh <- chunk:
			p.chunksRead.Add(1)
			p.samplesRead.Add(int64(blockLen))
		default:
			p.overruns.Add(1)
		}
	}
	return len(buf), nil
}

// Stop halts audio capture.
func (p *PulseSource) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stream := p.stream
	p.stream = nil
	close(p.stopCh)
	p.mu.Unlock()

	// Stop outside the lock: the client may be blocked in write.
	stream.Stop()
	stream.Close()

	p.logger.Info("pulse audio source stopped", "overruns", p.overruns.Load())
	return nil
}

// Read reads the next audio chunk.
func (p *PulseSource) Read(ctx context.Context) (AudioChunk, error) {
	p.mu.Lock()
	stream, stop := p.streamCh, p.stopCh
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk := <-stream:
		return chunk, nil
	case <-stop:
		return AudioChunk{}, io.EOF
	}
}

// Config returns the audio configuration.
func (p *PulseSource) Config() Config {
	return p.cfg
}

// Name returns "pulse".
func (p *PulseSource) Name() string {
	return "pulse"
}

// Close stops capture and disconnects from the server.
func (p *PulseSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.Stop()
	p.client.Close()
	return err
}

// Stats returns source statistics.
func (p *PulseSource) Stats() SourceStats {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	return SourceStats{
		ChunksRead:  p.chunksRead.Load(),
		SamplesRead: p.samplesRead.Load(),
		Overruns:    p.overruns.Load(),
		Running:     running,
		Backend:     "pulse",
	}
}

var _ SourceWithStats = (*PulseSource)(nil)

// PulsePlayer plays mono buffers on PulseAudio sinks.
type PulsePlayer struct {
	logger *slog.Logger

	mu      sync.Mutex
	client  *pulse.Client
	devices []OutputDevice
}

// NewPulsePlayer connects to the PulseAudio server.
func NewPulsePlayer(appName string, logger *slog.Logger) (*PulsePlayer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := pulse.NewClient(pulse.ClientApplicationName(appName))
	if err != nil {
		return nil, fmt.Errorf("connect to pulse server: %w", err)
	}
	return &PulsePlayer{logger: logger, client: client}, nil
}

// Devices lists playback sinks. The result is cached until Refresh.
func (p *PulsePlayer) Devices() ([]OutputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.devices != nil {
		out := make([]OutputDevice, len(p.devices))
		copy(out, p.devices)
		return out, nil
	}

	sinks, err := p.client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	devices := make([]OutputDevice, 0, len(sinks))
	for _, s := range sinks {
		devices = append(devices, OutputDevice{ID: s.ID(), Description: s.Name()})
	}
	p.devices = devices

	out := make([]OutputDevice, len(devices))
	copy(out, devices)
	return out, nil
}

// Refresh drops the cached sink list.
func (p *PulsePlayer) Refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = nil
	return nil
}

// Play plays samples on deviceID and blocks until the stream drains or
// ctx is cancelled.
func (p *PulsePlayer) Play(ctx context.Context, samples []float32, sampleRate int, deviceID string) error {
	if len(samples) == 0 {
		return nil
	}

	opts := []pulse.PlaybackOption{pulse.PlaybackMono, pulse.PlaybackSampleRate(sampleRate)}
	if deviceID != "" {
		sink, err := p.client.SinkByID(deviceID)
		if err != nil {
			return fmt.Errorf("lookup sink %q: %w", deviceID, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	pos := 0
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	stream, err := p.client.NewPlayback(reader, opts...)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}
	defer stream.Close()

	done := make(chan struct{})
	go func() {
		stream.Start()
		stream.Drain()
		close(done)
	}()

	select {
	case <-ctx.Done():
		stream.Stop()
		<-done
		return ctx.Err()
	case <-done:
	}

	if err := stream.Error(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Close disconnects from the server.
func (p *PulsePlayer) Close() error {
	p.client.Close()
	return nil
}

var _ Player = (*PulsePlayer)(nil)
