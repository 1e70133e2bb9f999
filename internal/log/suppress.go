package log

import "sync"

// Suppressor remembers which messages were already logged so that a
// failure repeating on every audio chunk is reported once.
type Suppressor struct {
	mu         sync.Mutex
	seen       map[string]int
	maxEntries int
}

// NewSuppressor creates a suppressor that remembers up to maxEntries
// distinct messages. Zero means 256.
func NewSuppressor(maxEntries int) *Suppressor {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Suppressor{
		seen:       make(map[string]int),
		maxEntries: maxEntries,
	}
}

// First records msg and reports whether this is its first occurrence.
func (s *Suppressor) First(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.seen[msg]; ok {
		s.seen[msg] = n + 1
		return false
	}
	if len(s.seen) >= s.maxEntries {
		// Forget everything rather than grow without bound.
		s.seen = make(map[string]int)
	}
	s.seen[msg] = 1
	return true
}

// Count returns how many times msg was seen.
func (s *Suppressor) Count(msg string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[msg]
}

// Reset forgets all recorded messages.
func (s *Suppressor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]int)
}
