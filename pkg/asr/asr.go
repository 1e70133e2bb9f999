// Package asr provides speech recognition bindings.
//
// All recognizers implement Recognizer:
//
//	rec, _ := asr.NewOpenAI(asr.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	res, _ := rec.Transcribe(ctx, samples, 16000, "fr")
//	// res.Text, res.Language
package asr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Recognizer transcribes mono float32 audio. language is a hint (ISO 639-1);
// an empty hint asks the recognizer to detect the language.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error)
}

// Result is a transcription.
type Result struct {
	// Text is the recognized text, trimmed.
	Text string
	// Language is the detected ISO 639-1 code, or the hint if the
	// recognizer does not report one.
	Language string
	// Latency is the time spent in the recognizer.
	Latency time.Duration
}

// Sentinel errors.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("asr: API key required")

	// ErrEmptyAudio is returned when there is nothing to transcribe.
	ErrEmptyAudio = errors.New("asr: empty audio")
)

// Config holds recognizer configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Option is a functional option for configuring recognizers.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the model ID.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:      "whisper-1",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// languageCodes maps language names reported by Whisper to ISO 639-1.
var languageCodes = map[string]string{
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"korean":     "ko",
}

// NormalizeLanguage converts a language name or tag to an ISO 639-1 code.
// Unknown names are returned lower-cased.
func NormalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	return l
}
