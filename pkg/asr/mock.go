package asr

import (
	"context"
	"sync"
	"time"
)

// Mock implements Recognizer for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns empty text in the hinted language.
	TranscribeFunc func(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Transcribe invocation.
type MockCall struct {
	Samples    int
	SampleRate int
	Language   string
	Time       time.Time
}

// NewMock creates a mock that always returns text in lang.
func NewMock(text, lang string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
			return Result{Text: text, Language: lang}, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Samples:    len(samples),
		SampleRate: sampleRate,
		Language:   language,
		Time:       time.Now(),
	})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate, language)
	}
	return Result{Language: language}, nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Recognizer = (*Mock)(nil)
