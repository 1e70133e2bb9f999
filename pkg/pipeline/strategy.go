package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/transync/pkg/audioio"
	"github.com/teslashibe/transync/pkg/translate"
	"github.com/teslashibe/transync/pkg/tts"
	"github.com/teslashibe/transync/pkg/vdevice"
)

// TranslationStrategy turns a recognized utterance into a translated one.
// ok=false drops the utterance.
type TranslationStrategy interface {
	Translate(ctx context.Context, in Recognized, mode translate.Mode) (out Translated, ok bool, err error)
}

// Counterpart translates every utterance into the other language of the
// pair, ignoring the mode's direction.
type Counterpart struct {
	Translator translate.Translator
	Pair       [2]string
}

// Translate implements TranslationStrategy.
func (c Counterpart) Translate(ctx context.Context, in Recognized, _ translate.Mode) (Translated, bool, error) {
	target := c.Pair[0]
	if in.Language == c.Pair[0] {
		target = c.Pair[1]
	}
	return translateTo(ctx, c.Translator, in, target)
}

// ModeFiltered translates only what the current mode accepts and drops
// the rest.
type ModeFiltered struct {
	Translator translate.Translator
}

// Translate implements TranslationStrategy.
func (f ModeFiltered) Translate(ctx context.Context, in Recognized, mode translate.Mode) (Translated, bool, error) {
	target, ok := mode.Route(in.Language)
	if !ok {
		return Translated{}, false, nil
	}
	return translateTo(ctx, f.Translator, in, target)
}

func translateTo(ctx context.Context, t translate.Translator, in Recognized, target string) (Translated, bool, error) {
	text, err := t.Translate(ctx, in.Text, in.Language, target)
	if err != nil {
		return Translated{}, false, fmt.Errorf("translate %s->%s: %w", in.Language, target, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Translated{}, false, nil
	}
	return Translated{
		UtteranceID:    in.UtteranceID,
		SourceText:     in.Text,
		SourceLanguage: in.Language,
		Text:           text,
		Language:       target,
		StartTime:      in.StartTime,
	}, true, nil
}

// OutputStrategy delivers synthesized speech.
type OutputStrategy interface {
	Deliver(ctx context.Context, speech *tts.Speech) error
	Name() string
}

// DefaultOutput plays on the system default output device.
type DefaultOutput struct {
	Player audioio.Player
}

// Deliver implements OutputStrategy. It blocks until playback ends.
func (o DefaultOutput) Deliver(ctx context.Context, speech *tts.Speech) error {
	return o.Player.Play(ctx, speech.Samples, speech.SampleRate, "")
}

// Name implements OutputStrategy.
func (o DefaultOutput) Name() string { return "default" }

// DeviceOutput queues speech on the virtual microphone.
type DeviceOutput struct {
	Device *vdevice.Device
}

// Deliver implements OutputStrategy.
func (o DeviceOutput) Deliver(ctx context.Context, speech *tts.Speech) error {
	return o.Device.Play(ctx, speech.Samples, speech.SampleRate)
}

// Name implements OutputStrategy.
func (o DeviceOutput) Name() string { return "virtual-mic" }
