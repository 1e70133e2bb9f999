package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/transync/internal/config"
	"github.com/teslashibe/transync/pkg/asr"
	"github.com/teslashibe/transync/pkg/audioio"
	"github.com/teslashibe/transync/pkg/captions"
	"github.com/teslashibe/transync/pkg/metrics"
	"github.com/teslashibe/transync/pkg/pipeline"
	"github.com/teslashibe/transync/pkg/translate"
	"github.com/teslashibe/transync/pkg/tts"
	"github.com/teslashibe/transync/pkg/vad"
	"github.com/teslashibe/transync/pkg/vdevice"
	"github.com/teslashibe/transync/pkg/web"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	source   audioio.Source
	player   audioio.Player
	provider tts.Provider
	device   *vdevice.Device
	pipeline *pipeline.Orchestrator
	metrics  *metrics.Metrics
	web      *web.Server
	captions *captions.Publisher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	classifier, err := vad.NewEnergy(cfg.VAD.Threshold, cfg.VAD.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("vad: %w", err)
	}

	recognizer, err := newRecognizer(cfg.ASR, logger)
	if err != nil {
		return nil, err
	}

	translator, err := newTranslator(ctx, cfg.Translation, logger)
	if err != nil {
		return nil, err
	}

	a.provider, err = newSpeechProvider(cfg.TTS, logger)
	if err != nil {
		return nil, err
	}

	if a.source, err = audioio.NewSource(cfg.Audio, logger); err != nil {
		return nil, fmt.Errorf("audio source: %w", err)
	}
	if a.player, err = audioio.NewPlayer(cfg.Audio, logger); err != nil {
		return nil, fmt.Errorf("audio player: %w", err)
	}

	useDevice := cfg.Device.Enabled
	if useDevice {
		pactl := vdevice.NewPactl(logger)
		if pactl.Available() {
			a.device = vdevice.New(deviceConfig(cfg.Device), pactl, a.player, logger)
		} else {
			logger.Warn("pactl not found, speaking on the default output instead")
			useDevice = false
		}
	}

	opts := pipeline.DefaultOptions()
	opts.Pair = [2]string{cfg.Translation.LanguageA, cfg.Translation.LanguageB}
	opts.Mode = cfg.Translation.Mode
	opts.FilterByMode = cfg.Translation.Filter
	opts.UseDevice = useDevice
	opts.SampleRate = cfg.Audio.SampleRate
	opts.Hangover = cfg.Segmenter.Hangover
	opts.StageCooldown = cfg.Pipeline.StageCooldown
	opts.SegmentCooldown = cfg.Pipeline.SegmentCooldown
	opts.PlaybackJoinTimeout = cfg.Pipeline.PlaybackJoinTimeout
	opts.QueueCapacity = cfg.Pipeline.QueueCapacity
	opts.Logger = logger
	opts.StageObserver = a.metrics
	opts.Observers = []pipeline.Observer{a.metrics}

	a.pipeline, err = pipeline.New(pipeline.Collaborators{
		Classifier:  classifier,
		Recognizer:  recognizer,
		Translator:  translator,
		Synthesizer: tts.NewSynthesizer(a.provider, logger),
		Player:      a.player,
		Device:      a.device,
	}, opts)
	if err != nil {
		return nil, err
	}

	if cfg.Web.Enabled {
		a.web = web.NewServer(a.pipeline, web.Options{
			Metrics:  a.metrics.Handler(),
			OnStatus: a.metrics.UpdateStatus,
			Logger:   logger,
		})
		a.pipeline.AddObserver(a.web)
	}

	if cfg.Captions.Enabled {
		a.captions = captions.New(captions.Config{
			BrokerURL:      cfg.Captions.Broker,
			ClientID:       cfg.Captions.ClientID,
			Username:       cfg.Captions.Username,
			Password:       cfg.Captions.Password,
			TopicPrefix:    cfg.Captions.TopicPrefix,
			QoS:            cfg.Captions.QoS,
			ConnectTimeout: cfg.Captions.ConnectTimeout,
		}, logger)
		a.pipeline.AddObserver(a.captions)
	}

	return a, nil
}

func newRecognizer(cfg config.ASRConfig, logger *slog.Logger) (asr.Recognizer, error) {
	switch cfg.Provider {
	case "mock":
		return &asr.Mock{}, nil
	default:
		r, err := asr.NewOpenAI(
			asr.WithAPIKey(cfg.APIKey),
			asr.WithBaseURL(cfg.BaseURL),
			asr.WithModel(cfg.Model),
			asr.WithTimeout(cfg.Timeout),
			asr.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("recognizer: %w", err)
		}
		return r, nil
	}
}

func newTranslator(ctx context.Context, cfg config.TranslationConfig, logger *slog.Logger) (translate.Translator, error) {
	switch cfg.Provider {
	case "mock":
		return translate.NewMock(), nil
	default:
		g, err := translate.NewGoogle(ctx, translate.GoogleConfig{APIKey: cfg.APIKey, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("translator: %w", err)
		}
		return g, nil
	}
}

func newSpeechProvider(cfg config.TTSConfig, logger *slog.Logger) (tts.Provider, error) {
	var providers []tts.Provider
	for _, name := range cfg.Providers {
		var (
			p   tts.Provider
			err error
		)
		switch name {
		case "openai":
			p, err = tts.NewOpenAI(
				tts.WithAPIKey(cfg.OpenAI.APIKey),
				tts.WithModel(cfg.OpenAI.Model),
				tts.WithTimeout(cfg.Timeout),
				tts.WithLogger(logger),
			)
		case "elevenlabs":
			p, err = tts.NewElevenLabs(
				tts.WithAPIKey(cfg.ElevenLabs.APIKey),
				tts.WithModel(cfg.ElevenLabs.Model),
				tts.WithTimeout(cfg.Timeout),
				tts.WithLogger(logger),
			)
		case "mock":
			p = tts.NewMock()
		default:
			err = fmt.Errorf("unknown provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("tts %s: %w", name, err)
		}
		providers = append(providers, p)
	}

	if len(providers) == 1 {
		return providers[0], nil
	}
	chain, err := tts.NewChainWithLogger(logger, providers...)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func deviceConfig(c config.DeviceConfig) vdevice.Config {
	d := vdevice.DefaultConfig()
	d.BaseName = c.BaseName
	d.Description = c.Description
	d.SampleRate = c.SampleRate
	d.Loopback = c.Loopback
	d.Redirect = c.Redirect
	d.RedirectDelay = c.RedirectDelay
	if len(c.SweepPatterns) > 0 {
		d.SweepPatterns = c.SweepPatterns
	}
	return d
}

// Run starts every component and feeds captured audio into the pipeline
// until ctx is done.
func (a *app) Run(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}
	defer a.stopPipeline()

	if a.device != nil && a.pipeline.Status().UseVirtualMic {
		fmt.Fprintln(os.Stdout, a.device.Instructions())
	}

	if a.captions != nil {
		if err := a.captions.Connect(ctx); err != nil {
			a.logger.Warn("captions disabled", "error", err)
		}
	}

	if a.web != nil {
		go func() {
			if err := a.web.ListenAndServe(ctx, a.cfg.Web.Addr); err != nil {
				a.logger.Error("dashboard stopped", "error", err)
			}
		}()
	}

	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer a.source.Stop()

	a.logger.Info("translating",
		"mode", a.pipeline.Mode().String(),
		"source", a.source.Name(),
	)

	for {
		chunk, err := a.source.Read(ctx)
		switch {
		case err == nil:
			a.pipeline.Ingest(chunk)
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("capture: %w", err)
		}
	}
}

func (a *app) stopPipeline() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.pipeline.Stop(ctx); err != nil {
		a.logger.Warn("pipeline shutdown incomplete", "error", err)
	}
}

// Close releases the audio and synthesizer clients.
func (a *app) Close() {
	for _, c := range []io.Closer{a.source, a.player, a.provider} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
}

// printDevices lists playback sinks and capture sources.
func printDevices(ctx context.Context, cfg *config.Config) error {
	player, err := audioio.NewPlayer(cfg.Audio, nil)
	if err != nil {
		return err
	}
	defer player.Close()

	sinks, err := player.Devices()
	if err != nil {
		return fmt.Errorf("list playback devices: %w", err)
	}
	fmt.Println("Playback devices:")
	for _, d := range sinks {
		fmt.Printf("  %-48s %s\n", d.ID, d.Description)
	}

	pactl := vdevice.NewPactl(nil)
	if !pactl.Available() {
		return nil
	}
	sources, err := pactl.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list capture sources: %w", err)
	}
	fmt.Println("Capture sources:")
	for _, s := range sources {
		fmt.Printf("  %s\n", s)
	}
	return nil
}
