// Package segment turns a stream of classified audio chunks into
// utterances.
package segment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/transync/internal/log"
	"github.com/teslashibe/transync/pkg/vad"
)

// DefaultHangover is the number of consecutive silence chunks that close
// an utterance (25 x 32ms = 800ms).
const DefaultHangover = 25

// State is the endpointing state.
type State int

const (
	// Idle means no speech is accumulated.
	Idle State = iota
	// Accumulating means speech is in progress.
	Accumulating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Utterance is one contiguous span of speech with its trailing silence
// padding removed.
type Utterance struct {
	ID         uuid.UUID
	Samples    []float32
	SampleRate int
	Chunks     int
	StartTime  time.Time
}

// Duration returns the audio length.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Segmenter is the endpointing state machine. Push is not meant to be
// called concurrently, but State and Buffered may be read from any
// goroutine.
type Segmenter struct {
	classifier vad.Classifier
	hangover   int
	sampleRate int
	logger     *slog.Logger
	suppress   *log.Suppressor
	now        func() time.Time

	mu      sync.Mutex
	buffer  [][]float32
	silence int
	failed  int64
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithHangover sets the silence threshold in chunks.
func WithHangover(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.hangover = n
		}
	}
}

// WithSampleRate sets the rate stamped on emitted utterances.
func WithSampleRate(rate int) Option {
	return func(s *Segmenter) { s.sampleRate = rate }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.logger = l }
}

// WithClock overrides the wall clock used for StartTime.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// New creates a Segmenter.
func New(classifier vad.Classifier, opts ...Option) *Segmenter {
	s := &Segmenter{
		classifier: classifier,
		hangover:   DefaultHangover,
		sampleRate: 16000,
		suppress:   log.NewSuppressor(0),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Or(s.logger).With("component", "segment")
	return s
}

// Push classifies one mono chunk and advances the state machine. It
// returns an utterance when this chunk closed one. The chunk is retained,
// so callers must not reuse its backing array.
func (s *Segmenter) Push(chunk []float32) (Utterance, bool) {
	speech := s.classify(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	if speech {
		s.buffer = append(s.buffer, chunk)
		s.silence = 0
		return Utterance{}, false
	}

	if len(s.buffer) == 0 {
		return Utterance{}, false
	}

	s.buffer = append(s.buffer, chunk)
	s.silence++
	if s.silence < s.hangover {
		return Utterance{}, false
	}

	kept := s.buffer[:len(s.buffer)-s.hangover]
	s.buffer = nil
	s.silence = 0

	if len(kept) == 0 {
		return Utterance{}, false
	}

	n := 0
	for _, c := range kept {
		n += len(c)
	}
	samples := make([]float32, 0, n)
	for _, c := range kept {
		samples = append(samples, c...)
	}

	u := Utterance{
		ID:         uuid.New(),
		Samples:    samples,
		SampleRate: s.sampleRate,
		Chunks:     len(kept),
		StartTime:  s.now(),
	}
	s.logger.Debug("utterance complete",
		"id", u.ID,
		"chunks", u.Chunks,
		"duration_ms", u.Duration().Milliseconds(),
	)
	return u, true
}

// classify calls the classifier, treating a failure as silence. Each
// distinct failure message is logged once.
func (s *Segmenter) classify(chunk []float32) bool {
	speech, err := s.classifier.IsSpeech(chunk)
	if err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		if s.suppress.First(err.Error()) {
			s.logger.Warn("speech classification failed, treating chunk as silence", "error", err)
		}
		return false
	}
	return speech
}

// State returns the current endpointing state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return Idle
	}
	return Accumulating
}

// Buffered returns the number of chunks accumulated so far.
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Failures returns how many classification calls failed.
func (s *Segmenter) Failures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Reset discards any accumulated speech.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.silence = 0
}
