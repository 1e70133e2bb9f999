package tts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/teslashibe/transync/pkg/audioio"
)

// Speech is synthesized audio ready for playback.
type Speech struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length in seconds.
func (s *Speech) Duration() float64 {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Synthesizer adapts a Provider to the pipeline: it picks a voice the
// provider offers, decodes PCM to float32 and guarantees a positive
// integer sample rate on every result.
type Synthesizer struct {
	provider Provider
	logger   *slog.Logger
}

// NewSynthesizer wraps provider. A nil logger uses slog.Default.
func NewSynthesizer(provider Provider, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		provider: provider,
		logger:   logger.With("component", "tts.synthesizer"),
	}
}

// Synthesize renders text with voice and locale. Empty or
// whitespace-only text yields (nil, nil).
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice, locale string) (*Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	voice = s.pickVoice(voice)
	res, err := s.provider.Synthesize(ctx, Request{Text: text, Voice: voice, Locale: locale})
	if err != nil {
		return nil, err
	}
	return decode(res)
}

// Provider returns the wrapped provider.
func (s *Synthesizer) Provider() Provider {
	return s.provider
}

func (s *Synthesizer) pickVoice(voice string) string {
	voices := s.provider.Voices()
	if len(voices) == 0 || slices.Contains(voices, voice) {
		return voice
	}
	s.logger.Warn("voice not available, using fallback",
		"requested", voice,
		"fallback", voices[0],
	)
	return voices[0]
}

func decode(res *AudioResult) (*Speech, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", ErrUnsupportedEncoding)
	}
	if !res.Format.Encoding.IsPCM() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, res.Format.Encoding)
	}
	rate := res.Format.SampleRate
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, rate)
	}

	samples := audioio.PCM16ToFloat(res.Audio)
	if res.Format.Channels > 1 {
		samples = audioio.Downmix(samples, res.Format.Channels)
	}
	return &Speech{Samples: samples, SampleRate: rate}, nil
}
