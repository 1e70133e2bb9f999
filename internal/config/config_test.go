package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mockConfig() Config {
	cfg := Default()
	cfg.ASR.Provider = "mock"
	cfg.Translation.Provider = "mock"
	cfg.TTS.Providers = []string{"mock"}
	return cfg
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Audio.SampleRate != 16000 || cfg.Audio.BlockSize != 512 {
		t.Errorf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Segmenter.Hangover != 25 {
		t.Errorf("expected hangover 25, got %d", cfg.Segmenter.Hangover)
	}
	if cfg.Device.SampleRate != 48000 || cfg.Device.BaseName != "vox-transync-mic" {
		t.Errorf("unexpected device defaults: %+v", cfg.Device)
	}
	if cfg.Translation.Mode != "fr-en" {
		t.Errorf("expected mode fr-en, got %s", cfg.Translation.Mode)
	}
	if cfg.Pipeline.StageCooldown != 500*time.Millisecond || cfg.Pipeline.SegmentCooldown != 100*time.Millisecond {
		t.Errorf("unexpected cooldowns: %+v", cfg.Pipeline)
	}
	if cfg.Captions.ConnectTimeout != 5*time.Second {
		t.Errorf("expected captions connect timeout 5s, got %v", cfg.Captions.ConnectTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"mock stack", func(*Config) {}, false},
		{"openai without key", func(c *Config) { c.ASR.Provider = "openai" }, true},
		{"openai with key", func(c *Config) { c.ASR.Provider = "openai"; c.ASR.APIKey = "k" }, false},
		{"same languages", func(c *Config) { c.Translation.LanguageB = "fr" }, true},
		{"no tts providers", func(c *Config) { c.TTS.Providers = nil }, true},
		{"unknown tts provider", func(c *Config) { c.TTS.Providers = []string{"kokoro"} }, true},
		{"zero hangover", func(c *Config) { c.Segmenter.Hangover = 0 }, true},
		{"vad threshold above one", func(c *Config) { c.VAD.Threshold = 2 }, true},
		{"device disabled ignores name", func(c *Config) { c.Device.Enabled = false; c.Device.BaseName = "" }, false},
		{"device enabled needs name", func(c *Config) { c.Device.BaseName = "" }, true},
		{"negative queue", func(c *Config) { c.Pipeline.QueueCapacity = -1 }, true},
		{"captions bad qos", func(c *Config) { c.Captions.Enabled = true; c.Captions.QoS = 3 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mockConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("MQTT_PASSWORD", "")
	t.Setenv("LOG_LEVEL", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "transync.yaml")
	data := `
asr:
  provider: mock
translation:
  provider: mock
  mode: en-fr
tts:
  providers: [mock]
pipeline:
  stage_cooldown: 250ms
  queue_capacity: 8
device:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Translation.Mode != "en-fr" {
		t.Errorf("expected mode en-fr, got %s", cfg.Translation.Mode)
	}
	if cfg.Pipeline.StageCooldown != 250*time.Millisecond {
		t.Errorf("expected 250ms cooldown, got %s", cfg.Pipeline.StageCooldown)
	}
	if cfg.Pipeline.QueueCapacity != 8 {
		t.Errorf("expected capacity 8, got %d", cfg.Pipeline.QueueCapacity)
	}
	// Untouched sections keep their defaults.
	if cfg.Segmenter.Hangover != 25 {
		t.Errorf("expected default hangover, got %d", cfg.Segmenter.Hangover)
	}
	if cfg.Device.Enabled {
		t.Error("expected device disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ELEVENLABS_API_KEY", "el-test")
	t.Setenv("GOOGLE_API_KEY", "g-test")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.ASR.APIKey != "sk-test" || cfg.TTS.OpenAI.APIKey != "sk-test" {
		t.Errorf("OPENAI_API_KEY not applied: %+v %+v", cfg.ASR, cfg.TTS.OpenAI)
	}
	if cfg.TTS.ElevenLabs.APIKey != "el-test" {
		t.Errorf("ELEVENLABS_API_KEY not applied")
	}
	if cfg.Translation.APIKey != "g-test" {
		t.Errorf("GOOGLE_API_KEY not applied")
	}
	if cfg.Captions.Password != "secret" {
		t.Errorf("MQTT_PASSWORD not applied")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("LOG_LEVEL not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config with keys should validate: %v", err)
	}
}
