package translate

import (
	"errors"
	"fmt"
	"strings"
)

// ModeBidirectional translates both languages of the pair into each other.
const ModeBidirectional = "bidirectional"

// ErrInvalidMode is returned for a mode string outside the configured pair.
var ErrInvalidMode = errors.New("translate: invalid translation mode")

// Mode decides which recognized utterances are translated and into what.
type Mode struct {
	bidirectional bool
	source        string
	target        string
	pair          [2]string
}

// ParseMode parses "a-b" (directional) or "bidirectional" against a
// two-language pair.
func ParseMode(s string, pair [2]string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if pair[0] == "" || pair[1] == "" || pair[0] == pair[1] {
		return Mode{}, fmt.Errorf("%w: unsupported language pair %v", ErrInvalidMode, pair)
	}

	if s == ModeBidirectional {
		return Mode{bidirectional: true, pair: pair}, nil
	}

	src, dst, ok := strings.Cut(s, "-")
	if !ok {
		return Mode{}, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	valid := (src == pair[0] && dst == pair[1]) || (src == pair[1] && dst == pair[0])
	if !valid {
		return Mode{}, fmt.Errorf("%w: %q (supported: %s-%s, %s-%s, %s)",
			ErrInvalidMode, s, pair[0], pair[1], pair[1], pair[0], ModeBidirectional)
	}
	return Mode{source: src, target: dst, pair: pair}, nil
}

// MustParseMode is ParseMode that panics on error. For tests and constants.
func MustParseMode(s string, pair [2]string) Mode {
	m, err := ParseMode(s, pair)
	if err != nil {
		panic(err)
	}
	return m
}

// String returns the mode in the form accepted by ParseMode.
func (m Mode) String() string {
	if m.bidirectional {
		return ModeBidirectional
	}
	return m.source + "-" + m.target
}

// Bidirectional reports whether the mode translates both ways.
func (m Mode) Bidirectional() bool {
	return m.bidirectional
}

// Route returns the target language for an utterance detected in lang.
// ok is false when a directional mode does not accept lang.
func (m Mode) Route(lang string) (target string, ok bool) {
	if m.bidirectional {
		if lang == m.pair[0] {
			return m.pair[1], true
		}
		return m.pair[0], true
	}
	if lang != m.source {
		return "", false
	}
	return m.target, true
}

// FallbackLanguage returns the language assumed for an utterance whose
// language the recognizer could not detect, or "" in bidirectional mode.
func (m Mode) FallbackLanguage() string {
	if m.bidirectional {
		return ""
	}
	return m.source
}
