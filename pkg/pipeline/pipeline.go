// Package pipeline wires segmentation, recognition, translation and
// synthesis into a running speech-to-speech translator.
//
// Each step is a stage.Stage with its own goroutine; the stages hand off
// through stage.Queues and stop when the context given to Start is
// cancelled or Stop is called.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/transync/pkg/asr"
	"github.com/teslashibe/transync/pkg/audioio"
	"github.com/teslashibe/transync/pkg/segment"
	"github.com/teslashibe/transync/pkg/stage"
	"github.com/teslashibe/transync/pkg/translate"
	"github.com/teslashibe/transync/pkg/tts"
	"github.com/teslashibe/transync/pkg/vad"
	"github.com/teslashibe/transync/pkg/vdevice"
)

// Sentinel errors.
var (
	ErrRunning      = errors.New("pipeline: already running")
	ErrMissingInput = errors.New("pipeline: missing collaborator")
)

// Collaborators are the external services the pipeline drives.
type Collaborators struct {
	Classifier  vad.Classifier
	Recognizer  asr.Recognizer
	Translator  translate.Translator
	Synthesizer *tts.Synthesizer

	// Player is the default output. Required unless a Device is used.
	Player audioio.Player

	// Device is the virtual microphone. Optional.
	Device *vdevice.Device
}

// Options configures an Orchestrator.
type Options struct {
	// Pair is the two-language set translation operates on.
	Pair [2]string

	// Mode is the initial translation mode string.
	Mode string

	// FilterByMode selects ModeFiltered translation; otherwise Counterpart.
	FilterByMode bool

	// UseDevice routes speech to the virtual microphone.
	UseDevice bool

	// SampleRate is the rate the segmenter and recognizer work at.
	SampleRate int
	Hangover   int

	StageCooldown       time.Duration
	SegmentCooldown     time.Duration
	PlaybackJoinTimeout time.Duration

	// QueueCapacity bounds every queue, dropping the oldest item when full.
	// Zero means unbounded.
	QueueCapacity int

	Logger        *slog.Logger
	StageObserver stage.Observer
	Observers     []Observer
}

// DefaultOptions returns options matching the stock configuration.
func DefaultOptions() Options {
	return Options{
		Pair:                [2]string{"fr", "en"},
		Mode:                "fr-en",
		FilterByMode:        true,
		SampleRate:          16000,
		Hangover:            segment.DefaultHangover,
		StageCooldown:       stage.DefaultCooldown,
		SegmentCooldown:     100 * time.Millisecond,
		PlaybackJoinTimeout: 2 * time.Second,
	}
}

// Orchestrator owns the stages and the optional virtual microphone.
type Orchestrator struct {
	collab Collaborators
	opts   Options
	logger *slog.Logger

	mode        atomic.Pointer[translate.Mode]
	translation TranslationStrategy
	output      atomic.Pointer[outputHolder]

	segmenter  *segment.Segmenter
	audio      *stage.Queue[[]float32]
	utterances *stage.Queue[segment.Utterance]
	recognized *stage.Queue[Recognized]
	translated *stage.Queue[Translated]

	segStage   *stage.Stage[[]float32, segment.Utterance]
	asrStage   *stage.Stage[segment.Utterance, Recognized]
	transStage *stage.Stage[Recognized, Translated]
	ttsStage   *stage.Stage[Translated, struct{}]

	mu        sync.Mutex
	running   atomic.Bool
	playback  atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	observers []Observer
}

type outputHolder struct{ OutputStrategy }

// New builds an Orchestrator. The initial mode must be valid.
func New(c Collaborators, opts Options) (*Orchestrator, error) {
	if c.Classifier == nil || c.Recognizer == nil || c.Translator == nil || c.Synthesizer == nil {
		return nil, ErrMissingInput
	}
	if opts.UseDevice && c.Device == nil {
		return nil, fmt.Errorf("%w: device", ErrMissingInput)
	}
	if c.Player == nil && !opts.UseDevice {
		return nil, fmt.Errorf("%w: player", ErrMissingInput)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Hangover <= 0 {
		opts.Hangover = segment.DefaultHangover
	}

	mode, err := translate.ParseMode(opts.Mode, opts.Pair)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		collab:    c,
		opts:      opts,
		logger:    opts.Logger.With("component", "pipeline"),
		observers: slices.Clone(opts.Observers),
	}
	o.mode.Store(&mode)

	if opts.FilterByMode {
		o.translation = ModeFiltered{Translator: c.Translator}
	} else {
		o.translation = Counterpart{Translator: c.Translator, Pair: opts.Pair}
	}

	o.segmenter = segment.New(c.Classifier,
		segment.WithHangover(opts.Hangover),
		segment.WithSampleRate(opts.SampleRate),
		segment.WithLogger(o.logger),
	)

	capacity := opts.QueueCapacity
	o.audio = stage.NewQueue[[]float32](capacity)
	o.utterances = stage.NewQueue[segment.Utterance](capacity)
	o.recognized = stage.NewQueue[Recognized](capacity)
	o.translated = stage.NewQueue[Translated](capacity)

	o.segStage = stage.New("segmentation", o.audio, o.utterances, o.segmentChunk, o.stageOpts(opts.SegmentCooldown)...)
	o.asrStage = stage.New("recognition", o.utterances, o.recognized, o.recognize, o.stageOpts(opts.StageCooldown)...)
	o.transStage = stage.New("translation", o.recognized, o.translated, o.translateText, o.stageOpts(opts.StageCooldown)...)
	o.ttsStage = stage.New[Translated, struct{}]("synthesis", o.translated, nil, o.synthesize, o.stageOpts(opts.StageCooldown)...)

	return o, nil
}

func (o *Orchestrator) stageOpts(cooldown time.Duration) []stage.Option {
	opts := []stage.Option{stage.WithLogger(o.logger), stage.WithCooldown(cooldown)}
	if o.opts.StageObserver != nil {
		opts = append(opts, stage.WithObserver(o.opts.StageObserver))
	}
	return opts
}

// AddObserver registers an observer. Call before Start.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) emit(e Event) {
	o.mu.Lock()
	observers := o.observers
	o.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, obs := range observers {
		obs.OnEvent(e)
	}
}

// Ingest hands a captured chunk to the pipeline. The data is copied,
// down-mixed to mono, resampled and range-normalized. Safe to call from
// any goroutine.
func (o *Orchestrator) Ingest(chunk audioio.AudioChunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	samples := slices.Clone(chunk.Samples)
	samples = audioio.Downmix(samples, chunk.Channels)
	if chunk.SampleRate > 0 && chunk.SampleRate != o.opts.SampleRate {
		samples = audioio.Resample(samples, chunk.SampleRate, o.opts.SampleRate)
	}
	samples = audioio.NormalizeRange(samples)

	if o.audio.Push(samples) {
		o.logger.Debug("audio queue full, dropped oldest chunk")
	}
}

// Start launches the stages and, when configured, the virtual microphone.
// If the device cannot be created the pipeline falls back to the default
// output. Start returns once everything is launched.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	o.output.Store(&outputHolder{o.startOutput(ctx)})

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		o.segStage.Run, o.asrStage.Run, o.transStage.Run, o.ttsStage.Run,
	} {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	o.running.Store(true)
	done := o.done
	go func() {
		wg.Wait()
		o.running.Store(false)
		close(done)
	}()

	o.logger.Info("pipeline started",
		"mode", o.Mode().String(),
		"output", o.currentOutput().Name(),
	)
	return nil
}

// startOutput picks the output strategy. Without a default player a failed
// device stays the output: Play retries creation per utterance and the
// playback worker runs so clips queued after a late success are spoken.
func (o *Orchestrator) startOutput(ctx context.Context) OutputStrategy {
	o.playback.Store(false)
	if !o.opts.UseDevice {
		return DefaultOutput{Player: o.collab.Player}
	}

	if err := o.collab.Device.Create(ctx); err != nil {
		if o.collab.Player != nil {
			o.logger.Warn("virtual microphone unavailable, using default output", "error", err)
			return DefaultOutput{Player: o.collab.Player}
		}
		o.logger.Error("virtual microphone unavailable and no default output, retrying per utterance", "error", err)
	}
	o.collab.Device.StartPlayback(ctx)
	o.playback.Store(true)
	return DeviceOutput{Device: o.collab.Device}
}

func (o *Orchestrator) currentOutput() OutputStrategy {
	if h := o.output.Load(); h != nil {
		return h.OutputStrategy
	}
	return DefaultOutput{Player: o.collab.Player}
}

// Stop cancels the stages and waits for their in-flight items to finish
// or for ctx to end. It then stops device playback within the join
// timeout, letting the clip in progress play out, and tears the device
// down.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("pipeline: stages still busy: %w", ctx.Err())
	}

	if o.playback.Load() {
		o.collab.Device.StopPlayback(o.opts.PlaybackJoinTimeout)
		// The start context is cancelled; teardown needs its own.
		teardown, cancelTeardown := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		o.collab.Device.Destroy(teardown)
		cancelTeardown()
		o.playback.Store(false)
	}

	if err != nil {
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}

// Done is closed when all stages have exited. It is nil before Start.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Running reports whether the stages are running.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Mode returns the current translation mode.
func (o *Orchestrator) Mode() translate.Mode {
	return *o.mode.Load()
}

// SetTranslationMode switches the mode. An invalid mode is rejected and
// the current one kept.
func (o *Orchestrator) SetTranslationMode(s string) error {
	mode, err := translate.ParseMode(s, o.opts.Pair)
	if err != nil {
		o.logger.Warn("invalid translation mode", "mode", s, "current", o.Mode().String())
		return err
	}
	o.mode.Store(&mode)
	o.logger.Info("translation mode changed", "mode", mode.String())
	return nil
}

func (o *Orchestrator) segmentChunk(ctx context.Context, chunk []float32) (segment.Utterance, bool, error) {
	u, ok := o.segmenter.Push(chunk)
	if ok {
		o.logger.Debug("utterance", "id", u.ID, "duration", u.Duration(), "chunks", u.Chunks)
		o.emit(Event{Kind: EventUtterance, UtteranceID: u.ID, AudioDuration: u.Duration(), Time: u.StartTime})
	}
	return u, ok, nil
}

func (o *Orchestrator) recognize(ctx context.Context, u segment.Utterance) (Recognized, bool, error) {
	// Always detect: the mode filter needs the spoken language.
	res, err := o.collab.Recognizer.Transcribe(ctx, u.Samples, u.SampleRate, "")
	if err != nil {
		return Recognized{}, false, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return Recognized{}, false, nil
	}
	lang := asr.NormalizeLanguage(res.Language)
	if lang == "" {
		lang = o.Mode().FallbackLanguage()
	}

	r := Recognized{UtteranceID: u.ID, Text: text, Language: lang, StartTime: u.StartTime}
	o.logger.Info("recognized", "lang", lang, "text", text)
	o.emit(Event{Kind: EventRecognized, UtteranceID: u.ID, Text: text, Language: lang})
	return r, true, nil
}

func (o *Orchestrator) translateText(ctx context.Context, r Recognized) (Translated, bool, error) {
	t, ok, err := o.translation.Translate(ctx, r, o.Mode())
	if err != nil || !ok {
		if err == nil {
			o.logger.Debug("utterance not translated", "lang", r.Language, "mode", o.Mode().String())
		}
		return Translated{}, false, err
	}

	o.logger.Info("translated", "lang", t.Language, "text", t.Text)
	o.emit(Event{
		Kind:           EventTranslated,
		UtteranceID:    t.UtteranceID,
		Text:           t.Text,
		Language:       t.Language,
		SourceText:     t.SourceText,
		SourceLanguage: t.SourceLanguage,
	})
	return t, true, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, t Translated) (struct{}, bool, error) {
	voice := tts.VoiceFor(t.Language)
	speech, err := o.collab.Synthesizer.Synthesize(ctx, t.Text, voice.Name, voice.Locale)
	if err != nil {
		return struct{}{}, false, fmt.Errorf("synthesize: %w", err)
	}
	if speech == nil {
		return struct{}{}, false, nil
	}

	latency := time.Since(t.StartTime)
	o.logger.Info("speech ready",
		"lang", t.Language,
		"voice", voice.Name,
		"latency", latency.Round(time.Millisecond),
	)

	if err := o.currentOutput().Deliver(ctx, speech); err != nil {
		return struct{}{}, false, fmt.Errorf("deliver: %w", err)
	}
	o.emit(Event{
		Kind:          EventSpoken,
		UtteranceID:   t.UtteranceID,
		Text:          t.Text,
		Language:      t.Language,
		AudioDuration: time.Duration(speech.Duration() * float64(time.Second)),
		Latency:       latency,
	})
	return struct{}{}, false, nil
}

// QueueSizes are queue depths, for diagnostics only.
type QueueSizes struct {
	Audio      int   `json:"audio"`
	Utterances int   `json:"utterances"`
	Recognized int   `json:"recognized"`
	Translated int   `json:"translated"`
	Playback   int   `json:"playback"`
	Dropped    int64 `json:"dropped"`
}

// Status is a point-in-time snapshot of the pipeline.
type Status struct {
	Running         bool          `json:"running"`
	UseVirtualMic   bool          `json:"use_virtual_mic"`
	TranslationMode string        `json:"translation_mode"`
	VirtualMicName  string        `json:"virtual_mic_name,omitempty"`
	Output          string        `json:"output"`
	SegmenterState  string        `json:"segmenter_state"`
	Queues          QueueSizes    `json:"queues"`
	Stages          []stage.Stats `json:"stages"`
}

// Status returns a snapshot of the pipeline.
func (o *Orchestrator) Status() Status {
	s := Status{
		Running:         o.running.Load(),
		UseVirtualMic:   o.playback.Load() && o.collab.Device.Created(),
		TranslationMode: o.Mode().String(),
		Output:          o.currentOutput().Name(),
		SegmenterState:  o.segmenter.State().String(),
		Queues: QueueSizes{
			Audio:      o.audio.Len(),
			Utterances: o.utterances.Len(),
			Recognized: o.recognized.Len(),
			Translated: o.translated.Len(),
			Dropped: o.audio.Dropped() + o.utterances.Dropped() +
				o.recognized.Dropped() + o.translated.Dropped(),
		},
		Stages: []stage.Stats{
			o.segStage.Stats(),
			o.asrStage.Stats(),
			o.transStage.Stats(),
			o.ttsStage.Stats(),
		},
	}
	if d := o.collab.Device; d != nil && o.opts.UseDevice {
		s.VirtualMicName = d.SourceName()
		s.Queues.Playback = d.QueueLen()
	}
	return s
}
