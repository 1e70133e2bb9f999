// Package config loads the transync configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/transync/pkg/audioio"
)

// Config represents the complete service configuration.
type Config struct {
	Audio       audioio.Config    `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	ASR         ASRConfig         `yaml:"asr"`
	Translation TranslationConfig `yaml:"translation"`
	TTS         TTSConfig         `yaml:"tts"`
	Device      DeviceConfig      `yaml:"device"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Web         WebConfig         `yaml:"web"`
	Captions    CaptionsConfig    `yaml:"captions"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// VADConfig configures the energy speech classifier.
type VADConfig struct {
	Threshold  float64 `yaml:"threshold"`   // RMS level, 0..1
	WindowSize int     `yaml:"window_size"` // samples per classification window
}

// SegmenterConfig configures utterance endpointing.
type SegmenterConfig struct {
	Hangover int `yaml:"hangover"` // consecutive silence chunks that close an utterance
}

// ASRConfig configures the speech recognizer binding.
type ASRConfig struct {
	Provider string        `yaml:"provider"` // openai, mock
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TranslationConfig configures the translator binding and routing mode.
type TranslationConfig struct {
	Provider  string `yaml:"provider"` // google, mock
	APIKey    string `yaml:"api_key"`
	Mode      string `yaml:"mode"` // fr-en, en-fr, bidirectional
	// Filter drops utterances the mode does not accept. When false every
	// utterance is translated into the other language of the pair.
	Filter    bool   `yaml:"filter"`
	LanguageA string `yaml:"language_a"`
	LanguageB string `yaml:"language_b"`
}

// TTSConfig configures the synthesizer chain.
type TTSConfig struct {
	// Providers are tried in order until one succeeds.
	Providers  []string         `yaml:"providers"` // openai, elevenlabs, mock
	OpenAI     OpenAITTSConfig  `yaml:"openai"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Timeout    time.Duration    `yaml:"timeout"`
}

// OpenAITTSConfig configures the OpenAI speech endpoint.
type OpenAITTSConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ElevenLabsConfig configures the ElevenLabs speech endpoint.
type ElevenLabsConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// DeviceConfig configures the virtual microphone.
type DeviceConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseName      string        `yaml:"base_name"`
	Description   string        `yaml:"description"`
	SampleRate    int           `yaml:"sample_rate"`
	Loopback      bool          `yaml:"loopback"`
	SweepPatterns []string      `yaml:"sweep_patterns"`
	Redirect      bool          `yaml:"redirect"`
	RedirectDelay time.Duration `yaml:"redirect_delay"`
}

// PipelineConfig configures stage pacing and queueing.
type PipelineConfig struct {
	StageCooldown       time.Duration `yaml:"stage_cooldown"`
	SegmentCooldown     time.Duration `yaml:"segment_cooldown"`
	PlaybackJoinTimeout time.Duration `yaml:"playback_join_timeout"`
	// QueueCapacity bounds every stage queue. Zero means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`
}

// WebConfig configures the status dashboard.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// CaptionsConfig configures the MQTT caption publisher.
type CaptionsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	// ConnectTimeout bounds the startup wait for the broker. Connection
	// attempts continue in the background after it expires.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a runnable configuration.
func Default() Config {
	audio := audioio.DefaultConfig()
	return Config{
		Audio:     audio,
		VAD:       VADConfig{Threshold: 0.01, WindowSize: 512},
		Segmenter: SegmenterConfig{Hangover: 25},
		ASR: ASRConfig{
			Provider: "openai",
			Model:    "whisper-1",
			Timeout:  60 * time.Second,
		},
		Translation: TranslationConfig{
			Provider:  "google",
			Mode:      "fr-en",
			Filter:    true,
			LanguageA: "fr",
			LanguageB: "en",
		},
		TTS: TTSConfig{
			Providers:  []string{"openai"},
			OpenAI:     OpenAITTSConfig{Model: "tts-1"},
			ElevenLabs: ElevenLabsConfig{Model: "eleven_flash_v2_5"},
			Timeout:    30 * time.Second,
		},
		Device: DeviceConfig{
			Enabled:       true,
			BaseName:      "vox-transync-mic",
			Description:   "Vox Transync Microphone",
			SampleRate:    48000,
			SweepPatterns: []string{"vox-transync", "vox-mic"},
			Redirect:      true,
			RedirectDelay: 150 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			StageCooldown:       500 * time.Millisecond,
			SegmentCooldown:     100 * time.Millisecond,
			PlaybackJoinTimeout: 2 * time.Second,
		},
		Web: WebConfig{Enabled: true, Addr: "127.0.0.1:8089"},
		Captions: CaptionsConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:       "transync",
			TopicPrefix:    "transync",
			ConnectTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.ASR.APIKey = v
		c.TTS.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Translation.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.TTS.ElevenLabs.APIKey = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.Captions.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs validation of every section.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if c.Segmenter.Hangover < 1 {
		return fmt.Errorf("segmenter config: hangover must be at least 1, got %d", c.Segmenter.Hangover)
	}
	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}
	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}
	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web config: addr cannot be empty when enabled")
	}
	if c.Captions.Enabled {
		if c.Captions.Broker == "" {
			return fmt.Errorf("captions config: broker cannot be empty when enabled")
		}
		if c.Captions.QoS > 2 {
			return fmt.Errorf("captions config: qos must be 0, 1 or 2, got %d", c.Captions.QoS)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging config: unknown format %q", c.Logging.Format)
	}
	return nil
}

// Validate validates VAD configuration.
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}
	if v.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", v.WindowSize)
	}
	return nil
}

// Validate validates recognizer configuration.
func (a *ASRConfig) Validate() error {
	switch a.Provider {
	case "openai":
		if a.APIKey == "" {
			return fmt.Errorf("api_key required for provider openai (or set OPENAI_API_KEY)")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown provider %q", a.Provider)
	}
	return nil
}

// Validate validates translation configuration. Mode strings are checked
// again by the pipeline at runtime.
func (t *TranslationConfig) Validate() error {
	switch t.Provider {
	case "google", "mock":
	default:
		return fmt.Errorf("unknown provider %q", t.Provider)
	}
	if t.LanguageA == "" || t.LanguageB == "" {
		return fmt.Errorf("language_a and language_b are required")
	}
	if t.LanguageA == t.LanguageB {
		return fmt.Errorf("language_a and language_b must differ, both %q", t.LanguageA)
	}
	return nil
}

// Validate validates synthesizer configuration.
func (t *TTSConfig) Validate() error {
	if len(t.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, p := range t.Providers {
		switch p {
		case "openai":
			if t.OpenAI.APIKey == "" {
				return fmt.Errorf("openai api_key required (or set OPENAI_API_KEY)")
			}
		case "elevenlabs":
			if t.ElevenLabs.APIKey == "" {
				return fmt.Errorf("elevenlabs api_key required (or set ELEVENLABS_API_KEY)")
			}
		case "mock":
		default:
			return fmt.Errorf("unknown provider %q", p)
		}
	}
	return nil
}

// Validate validates virtual device configuration.
func (d *DeviceConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if d.BaseName == "" {
		return fmt.Errorf("base_name cannot be empty")
	}
	if d.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", d.SampleRate)
	}
	return nil
}

// Validate validates pipeline pacing.
func (p *PipelineConfig) Validate() error {
	if p.StageCooldown < 0 || p.SegmentCooldown < 0 {
		return fmt.Errorf("cooldowns cannot be negative")
	}
	if p.PlaybackJoinTimeout <= 0 {
		return fmt.Errorf("playback_join_timeout must be positive, got %s", p.PlaybackJoinTimeout)
	}
	if p.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity cannot be negative, got %d", p.QueueCapacity)
	}
	return nil
}
