package vad

import (
	"errors"
	"math"
	"testing"
)

func sine(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestNewEnergy_Validation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		window    int
		wantErr   bool
	}{
		{"valid", 0.01, 512, false},
		{"zero threshold", 0, 512, true},
		{"threshold above one", 1.5, 512, true},
		{"zero window", 0.01, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnergy(tt.threshold, tt.window)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEnergy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnergy_IsSpeech(t *testing.T) {
	e, err := NewEnergy(0.05, 512)
	if err != nil {
		t.Fatal(err)
	}

	loudTail := make([]float32, 1024)
	copy(loudTail[512:], sine(512, 0.5))

	pcmScaled := sine(512, 16000)

	tests := []struct {
		name    string
		samples []float32
		want    bool
	}{
		{"silence", make([]float32, 512), false},
		{"quiet noise", sine(512, 0.01), false},
		{"tone", sine(512, 0.5), true},
		{"speech in any window", loudTail, true},
		{"pcm16 range is rescaled", pcmScaled, true},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsSpeech(tt.samples)
			if err != nil {
				t.Fatalf("IsSpeech failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsSpeech() = %v, want %v", got, tt.want)
			}
		})
	}

	stats := e.Stats()
	if stats.TotalWindows == 0 || stats.VoiceWindows == 0 {
		t.Errorf("expected windows counted, got %+v", stats)
	}
}

func TestEnergy_InvalidSamples(t *testing.T) {
	e, _ := NewEnergy(0.05, 512)
	_, err := e.IsSpeech([]float32{0, float32(math.NaN())})
	if !errors.Is(err, ErrInvalidSamples) {
		t.Errorf("expected ErrInvalidSamples, got %v", err)
	}
}

func TestScript(t *testing.T) {
	s := Speech(2, 1).FailAt(1, errors.New("model error"))

	want := []struct {
		speech bool
		err    bool
	}{
		{true, false},
		{false, true},
		{false, false},
		{false, false}, // past the end
	}

	for i, w := range want {
		got, err := s.IsSpeech(nil)
		if got != w.speech || (err != nil) != w.err {
			t.Errorf("call %d: got (%v, %v), want (%v, err=%v)", i, got, err, w.speech, w.err)
		}
	}
	if s.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", s.Calls())
	}
}
