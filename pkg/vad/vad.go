// Package vad classifies audio chunks as speech or silence.
package vad

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/transync/pkg/audioio"
)

// Classifier decides whether a chunk of mono samples contains speech.
// Implementations may fail; callers treat a failure as silence.
type Classifier interface {
	IsSpeech(samples []float32) (bool, error)
}

// ErrInvalidSamples is returned for chunks containing NaN or Inf.
var ErrInvalidSamples = errors.New("vad: invalid samples")

// Energy is an RMS-threshold classifier. A chunk is speech when any of
// its windows reaches the threshold.
type Energy struct {
	threshold  float64
	windowSize int

	totalWindows atomic.Uint64
	voiceWindows atomic.Uint64
}

// NewEnergy creates an energy classifier. threshold is an RMS level in
// (0, 1]; windowSize is in samples.
func NewEnergy(threshold float64, windowSize int) (*Energy, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	return &Energy{threshold: threshold, windowSize: windowSize}, nil
}

// IsSpeech implements Classifier. Samples beyond [-1, 1] are assumed to be
// PCM16-scaled and divided by 32768 first.
func (e *Energy) IsSpeech(samples []float32) (bool, error) {
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return false, ErrInvalidSamples
		}
	}

	samples = audioio.NormalizeRange(samples)

	speech := false
	for start := 0; start < len(samples); start += e.windowSize {
		end := min(start+e.windowSize, len(samples))
		e.totalWindows.Add(1)
		if audioio.CalculateRMS(samples[start:end]) >= e.threshold {
			e.voiceWindows.Add(1)
			speech = true
		}
	}
	return speech, nil
}

// Stats reports window counters.
type Stats struct {
	TotalWindows    uint64  `json:"total_windows"`
	VoiceWindows    uint64  `json:"voice_windows"`
	VoicePercentage float64 `json:"voice_percentage"`
	Threshold       float64 `json:"threshold"`
}

// Stats returns classifier statistics.
func (e *Energy) Stats() Stats {
	total := e.totalWindows.Load()
	voice := e.voiceWindows.Load()
	var pct float64
	if total > 0 {
		pct = float64(voice) / float64(total) * 100
	}
	return Stats{
		TotalWindows:    total,
		VoiceWindows:    voice,
		VoicePercentage: pct,
		Threshold:       e.threshold,
	}
}

var _ Classifier = (*Energy)(nil)

// Script is a Classifier that replays a fixed sequence of decisions,
// then reports silence. Useful in tests and demos.
type Script struct {
	mu        sync.Mutex
	decisions []bool
	errs      map[int]error
	calls     int
}

// NewScript creates a scripted classifier.
func NewScript(decisions ...bool) *Script {
	return &Script{decisions: decisions, errs: make(map[int]error)}
}

// Speech returns a script of n speech decisions followed by m silence.
func Speech(n, m int) *Script {
	d := make([]bool, 0, n+m)
	for i := 0; i < n; i++ {
		d = append(d, true)
	}
	for i := 0; i < m; i++ {
		d = append(d, false)
	}
	return NewScript(d...)
}

// FailAt makes the call with the given index return err.
func (s *Script) FailAt(call int, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[call] = err
	return s
}

// IsSpeech implements Classifier.
func (s *Script) IsSpeech([]float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if err, ok := s.errs[i]; ok {
		return false, err
	}
	if i < len(s.decisions) {
		return s.decisions[i], nil
	}
	return false, nil
}

// Calls returns the number of IsSpeech calls.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ Classifier = (*Script)(nil)
