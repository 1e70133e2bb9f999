// Package translate provides machine translation bindings and the
// translation routing mode.
package translate

import (
	"context"
	"sync"
	"time"
)

// Translator translates text from src to dst. Empty input yields empty
// output without contacting the engine.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Mock implements Translator for testing.
type Mock struct {
	// TranslateFunc is called for non-empty input.
	// If nil, returns "[dst] text".
	TranslateFunc func(ctx context.Context, text, src, dst string) (string, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Translate invocation.
type MockCall struct {
	Text string
	Src  string
	Dst  string
	Time time.Time
}

// NewMock creates a mock translator.
func NewMock() *Mock {
	return &Mock{}
}

// Translate implements Translator.
func (m *Mock) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if text == "" {
		return "", nil
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, Src: src, Dst: dst, Time: time.Now()})
	m.mu.Unlock()

	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, text, src, dst)
	}
	return "[" + dst + "] " + text, nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Translator = (*Mock)(nil)
