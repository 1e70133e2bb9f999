package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Recognized is a transcribed utterance.
type Recognized struct {
	UtteranceID uuid.UUID
	Text        string
	Language    string
	StartTime   time.Time
}

// Translated is a translated utterance ready for synthesis.
type Translated struct {
	UtteranceID    uuid.UUID
	SourceText     string
	SourceLanguage string
	Text           string
	Language       string
	StartTime      time.Time
}

// EventKind identifies a pipeline event.
type EventKind string

const (
	EventUtterance  EventKind = "utterance"
	EventRecognized EventKind = "recognized"
	EventTranslated EventKind = "translated"
	EventSpoken     EventKind = "spoken"
)

// Event reports progress of one utterance through the pipeline.
type Event struct {
	Kind           EventKind     `json:"kind"`
	UtteranceID    uuid.UUID     `json:"utterance_id"`
	Text           string        `json:"text,omitempty"`
	Language       string        `json:"language,omitempty"`
	SourceText     string        `json:"source_text,omitempty"`
	SourceLanguage string        `json:"source_language,omitempty"`
	AudioDuration  time.Duration `json:"audio_duration,omitempty"`
	Latency        time.Duration `json:"latency,omitempty"`
	Time           time.Time     `json:"time"`
}

// Observer receives pipeline events. OnEvent runs on a stage goroutine
// and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
