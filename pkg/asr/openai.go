package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/transync/internal/httpc"
	"github.com/teslashibe/transync/pkg/audioio"
)

const (
	openAITranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"
	providerOpenAI         = "asr.openai"
)

// OpenAI implements Recognizer with the OpenAI transcription endpoint.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewOpenAI creates an OpenAI recognizer.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITranscriptionURL
	}

	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "asr.openai"),
		baseURL: baseURL,
	}, nil
}

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Transcribe implements Recognizer.
func (o *OpenAI) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyAudio
	}
	start := time.Now()

	wav, err := audioio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", providerOpenAI, err)
	}

	body, contentType, err := o.buildForm(wav, language)
	if err != nil {
		return Result{}, fmt.Errorf("%s: build form: %w", providerOpenAI, err)
	}

	resp, err := httpc.DoWithRetry(ctx, o.client, providerOpenAI,
		httpc.Retry{MaxRetries: o.config.MaxRetries, Delay: o.config.RetryDelay, Logger: o.logger},
		func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
			req.Header.Set("Content-Type", contentType)
			return req, nil
		})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, httpc.DecodeError(providerOpenAI, resp)
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Result{}, fmt.Errorf("%s: decode response: %w", providerOpenAI, err)
	}

	detected := NormalizeLanguage(tr.Language)
	if detected == "" {
		detected = language
	}

	res := Result{
		Text:     strings.TrimSpace(tr.Text),
		Language: detected,
		Latency:  time.Since(start),
	}

	o.logger.Debug("transcribed audio",
		"samples", len(samples),
		"language", res.Language,
		"chars", len(res.Text),
		"latency_ms", res.Latency.Milliseconds(),
	)
	return res, nil
}

func (o *OpenAI) buildForm(wav []byte, language string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           o.config.Model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

var _ Recognizer = (*OpenAI)(nil)
