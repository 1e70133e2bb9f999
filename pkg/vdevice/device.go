package vdevice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/transync/pkg/audioio"
	"github.com/teslashibe/transync/pkg/stage"
)

// Config configures a Device.
type Config struct {
	// BaseName names the microphone source. The sink is BaseName + "-output".
	BaseName string

	// Description is shown to applications choosing a microphone.
	Description string

	// SampleRate of the null sink. Playback is resampled to it.
	SampleRate int

	// Loopback adds a monitoring loopback from the sink to the default output.
	Loopback bool

	// SweepPatterns match stray modules left by earlier runs. BaseName is
	// always swept.
	SweepPatterns []string

	// Redirect moves this process's playback stream onto the sink when no
	// matching playback device is found.
	Redirect      bool
	RedirectDelay time.Duration

	// ProcessID owns the streams to redirect. Zero means os.Getpid().
	ProcessID int
}

// DefaultConfig returns the stock virtual microphone settings.
func DefaultConfig() Config {
	return Config{
		BaseName:      "vox-transync-mic",
		Description:   "Vox Transync Microphone",
		SampleRate:    48000,
		SweepPatterns: []string{"vox-transync", "vox-mic"},
		Redirect:      true,
		RedirectDelay: 150 * time.Millisecond,
	}
}

// Handle is one audio-server object created by the device.
type Handle struct {
	Index  int
	Module string
}

type clip struct {
	samples    []float32
	sampleRate int
}

var refreshRetryDelay = 500 * time.Millisecond

// Device manages the virtual microphone lifecycle and its playback worker.
// Create and Destroy are serialized internally.
type Device struct {
	cfg    Config
	server AudioServer
	player audioio.Player
	logger *slog.Logger

	mu      sync.Mutex
	created bool
	handles []Handle

	queue    *stage.Queue[clip]
	playMu   sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	redirect sync.WaitGroup
}

// New creates a Device. Nothing is created on the audio server until
// Create or Play is called.
func New(cfg Config, server AudioServer, player audioio.Player, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.ProcessID == 0 {
		cfg.ProcessID = os.Getpid()
	}
	return &Device{
		cfg:    cfg,
		server: server,
		player: player,
		logger: logger.With("component", "vdevice", "device", cfg.BaseName),
		queue:  stage.NewQueue[clip](0),
	}
}

// SinkName is the null sink that receives playback.
func (d *Device) SinkName() string { return d.cfg.BaseName + "-output" }

// SourceName is the microphone applications select.
func (d *Device) SourceName() string { return d.cfg.BaseName }

// SampleRate is the sink rate.
func (d *Device) SampleRate() int { return d.cfg.SampleRate }

// Created reports whether the device graph exists.
func (d *Device) Created() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// Handles returns the created objects in creation order.
func (d *Device) Handles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.handles)
}

// QueueLen returns the number of clips waiting for playback.
func (d *Device) QueueLen() int {
	return d.queue.Len()
}

// Create builds the sink and microphone source. Any previous device is
// torn down first. On failure everything created so far is unloaded.
func (d *Device) Create(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createLocked(ctx)
}

func (d *Device) createLocked(ctx context.Context) error {
	d.destroyLocked(ctx)

	sink, source := d.SinkName(), d.SourceName()
	if strings.HasSuffix(source, ".monitor") {
		d.logger.Error("refusing to expose a monitor as microphone", "source", source)
		return fmt.Errorf("%w: %s", ErrMonitorSource, source)
	}

	d.logger.Info("creating virtual microphone", "sink", sink, "source", source, "rate", d.cfg.SampleRate)

	if err := d.load(ctx, "module-null-sink",
		"sink_name="+sink,
		fmt.Sprintf("rate=%d", d.cfg.SampleRate),
		"format=s16le",
		"sink_properties=device.description="+sink,
	); err != nil {
		return d.rollback(ctx, fmt.Errorf("create sink: %w", err))
	}

	if err := d.load(ctx, "module-remap-source",
		"source_name="+source,
		"master="+sink+".monitor",
		"source_properties="+d.sourceProperties(),
	); err != nil {
		return d.rollback(ctx, fmt.Errorf("create source: %w", err))
	}

	sources, err := d.server.ListSources(ctx)
	if err != nil {
		return d.rollback(ctx, fmt.Errorf("list sources: %w", err))
	}
	if !slices.Contains(sources, source) {
		return d.rollback(ctx, fmt.Errorf("%w: %s", ErrSourceMissing, source))
	}

	d.forceLevels(ctx, KindSink, sink)
	d.forceLevels(ctx, KindSource, source)

	if d.cfg.Loopback {
		if err := d.load(ctx, "module-loopback", "source="+sink+".monitor", "latency_msec=10"); err != nil {
			d.logger.Warn("monitoring loopback unavailable", "error", err)
		}
	}

	d.created = true
	d.refreshPlayer(ctx)

	d.logger.Info("virtual microphone ready",
		"source", source,
		"handles", len(d.handles),
	)
	return nil
}

func (d *Device) sourceProperties() string {
	desc := d.cfg.Description
	if desc == "" {
		desc = d.cfg.BaseName
	}
	return fmt.Sprintf(`'device.description="%s" device.class="audio.input" device.icon_name="audio-input-microphone" device.form_factor="microphone" media.role="communication"'`, desc)
}

func (d *Device) load(ctx context.Context, module string, args ...string) error {
	idx, err := d.server.LoadModule(ctx, module, args...)
	if err != nil {
		return err
	}
	d.handles = append(d.handles, Handle{Index: idx, Module: module})
	d.logger.Debug("module loaded", "module", module, "index", idx)
	return nil
}

// forceLevels unmutes and sets full volume. New objects may start muted
// or at a saved level.
func (d *Device) forceLevels(ctx context.Context, kind Kind, name string) {
	if err := d.server.SetMute(ctx, kind, name, false); err != nil {
		d.logger.Warn("unmute failed", "kind", kind, "name", name, "error", err)
	}
	if err := d.server.SetVolume(ctx, kind, name, 100); err != nil {
		d.logger.Warn("set volume failed", "kind", kind, "name", name, "error", err)
	}
}

// refreshPlayer makes the new sink visible to local playback, retrying once.
func (d *Device) refreshPlayer(ctx context.Context) {
	if d.player == nil {
		return
	}
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 && !stage.Sleep(ctx, refreshRetryDelay) {
			return
		}
		if err := d.player.Refresh(); err != nil {
			d.logger.Warn("device refresh failed", "error", err)
			continue
		}
		if d.FindDeviceHandle() != "" {
			return
		}
	}
	d.logger.Warn("sink not visible to playback, using default output", "sink", d.SinkName())
}

func (d *Device) rollback(ctx context.Context, cause error) error {
	d.logger.Error("virtual microphone creation failed, rolling back", "error", cause)
	d.unloadHandles(ctx)
	d.created = false
	return cause
}

// Destroy unloads every created object in reverse order, then sweeps
// stray modules matching the device naming. It never fails; the result
// reports whether the sweep could list modules.
func (d *Device) Destroy(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyLocked(ctx)
}

func (d *Device) destroyLocked(ctx context.Context) bool {
	d.unloadHandles(ctx)
	d.created = false
	swept := d.sweep(ctx)
	if d.player != nil {
		if err := d.player.Refresh(); err != nil {
			d.logger.Debug("device refresh failed", "error", err)
		}
	}
	return swept
}

func (d *Device) unloadHandles(ctx context.Context) {
	for i := len(d.handles) - 1; i >= 0; i-- {
		h := d.handles[i]
		if err := d.server.UnloadModule(ctx, h.Index); err != nil {
			d.logger.Warn("unload failed", "module", h.Module, "index", h.Index, "error", err)
		}
	}
	d.handles = nil
}

func (d *Device) sweep(ctx context.Context) bool {
	mods, err := d.server.ListModules(ctx)
	if err != nil {
		d.logger.Warn("cannot list modules, sweep skipped", "error", err)
		return false
	}

	patterns := append([]string{d.cfg.BaseName}, d.cfg.SweepPatterns...)
	var n int
	for _, m := range mods {
		if !matchesAny(m.Args, patterns) {
			continue
		}
		if err := d.server.UnloadModule(ctx, m.Index); err != nil {
			d.logger.Warn("sweep unload failed", "module", m.Name, "index", m.Index, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		d.logger.Info("swept stray modules", "count", n)
	}
	return true
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// FindDeviceHandle returns the playback device ID of the sink, preferring
// an exact name match over one containing the base name. Empty means the
// sink is not visible and playback uses the default output.
func (d *Device) FindDeviceHandle() string {
	if d.player == nil {
		return ""
	}
	devices, err := d.player.Devices()
	if err != nil {
		d.logger.Debug("list playback devices failed", "error", err)
		return ""
	}

	sink := d.SinkName()
	var partial string
	for _, dev := range devices {
		if dev.ID == sink {
			return dev.ID
		}
		if partial == "" && (strings.Contains(dev.ID, d.cfg.BaseName) || strings.Contains(dev.Description, d.cfg.BaseName)) {
			partial = dev.ID
		}
	}
	return partial
}

// RedirectStream moves this process's active playback streams onto the
// sink. It reports whether any stream was moved.
func (d *Device) RedirectStream(ctx context.Context) (bool, error) {
	inputs, err := d.server.ListSinkInputs(ctx)
	if err != nil {
		return false, fmt.Errorf("list sink inputs: %w", err)
	}

	var moved bool
	for _, in := range inputs {
		if in.ProcessID != d.cfg.ProcessID {
			continue
		}
		if err := d.server.MoveSinkInput(ctx, in.Index, d.SinkName()); err != nil {
			return moved, fmt.Errorf("move sink input %d: %w", in.Index, err)
		}
		d.logger.Debug("redirected stream", "input", in.Index, "sink", d.SinkName())
		moved = true
	}
	return moved, nil
}

// Play queues audio for the playback worker, creating the device on
// demand and resampling to the sink rate.
func (d *Device) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		return fmt.Errorf("vdevice: invalid sample rate %d", sampleRate)
	}

	d.mu.Lock()
	if !d.created {
		if err := d.createLocked(ctx); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.mu.Unlock()

	if sampleRate != d.cfg.SampleRate {
		samples = audioio.Resample(samples, sampleRate, d.cfg.SampleRate)
	} else {
		samples = slices.Clone(samples)
	}
	d.queue.Push(clip{samples: samples, sampleRate: d.cfg.SampleRate})
	return nil
}

// StartPlayback starts the playback worker. It is a no-op if already running.
func (d *Device) StartPlayback(ctx context.Context) {
	d.playMu.Lock()
	defer d.playMu.Unlock()

	if d.cancel != nil {
		d.logger.Warn("playback already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done

	worker := stage.New[clip, struct{}]("playback", d.queue, nil, d.playFunc(ctx),
		stage.WithLogger(d.logger),
		stage.WithCooldown(100*time.Millisecond),
	)
	go func() {
		defer close(done)
		worker.Run(ctx)
		d.redirect.Wait()
	}()
	d.logger.Info("playback started")
}

// StopPlayback stops the worker and waits up to timeout for the clip in
// progress to finish playing. Queued clips are not played. It reports
// whether the worker exited in time.
func (d *Device) StopPlayback(timeout time.Duration) bool {
	d.playMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.playMu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		d.logger.Info("playback stopped")
		return true
	case <-time.After(timeout):
		d.logger.Warn("playback worker did not stop in time", "timeout", timeout)
		return false
	}
}

// playFunc plays one clip. The clip itself is never cut short; stop only
// abandons a pending stream redirect.
func (d *Device) playFunc(stop context.Context) stage.Func[clip, struct{}] {
	return func(ctx context.Context, c clip) (struct{}, bool, error) {
		deviceID := d.FindDeviceHandle()
		if deviceID == "" && d.cfg.Redirect {
			d.redirect.Add(1)
			go func() {
				defer d.redirect.Done()
				if !stage.Sleep(stop, d.cfg.RedirectDelay) {
					return
				}
				if _, err := d.RedirectStream(stop); err != nil {
					d.logger.Debug("stream redirect failed", "error", err)
				}
			}()
		}

		if err := d.player.Play(ctx, c.samples, c.sampleRate, deviceID); err != nil {
			return struct{}{}, false, fmt.Errorf("play: %w", err)
		}
		return struct{}{}, false, nil
	}
}

// Instructions explains how to select the virtual microphone.
func (d *Device) Instructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Virtual microphone: %s\n\n", d.SourceName())
	b.WriteString("To use it in a meeting (Google Meet, Zoom, Teams):\n")
	b.WriteString("  1. Open the application's audio settings.\n")
	fmt.Fprintf(&b, "  2. Select %q (%s) as the microphone.\n", d.cfg.Description, d.SourceName())
	b.WriteString("  3. Speak; the translated voice is sent to the meeting.\n\n")
	fmt.Fprintf(&b, "Check it exists with: pactl list short sources | grep %s\n", d.SourceName())
	fmt.Fprintf(&b, "Monitor it with:      parec -d %s | aplay\n", d.SourceName())
	return b.String()
}
