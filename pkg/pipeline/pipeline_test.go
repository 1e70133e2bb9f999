package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/transync/pkg/asr"
	"github.com/teslashibe/transync/pkg/audioio"
	"github.com/teslashibe/transync/pkg/translate"
	"github.com/teslashibe/transync/pkg/tts"
	"github.com/teslashibe/transync/pkg/vad"
	"github.com/teslashibe/transync/pkg/vdevice"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	o          *Orchestrator
	recognizer *asr.Mock
	translator *translate.Mock
	synth      *tts.Mock
	player     *audioio.MockPlayer
	events     *recorder
}

func newHarness(t *testing.T, classifier vad.Classifier, recognizer *asr.Mock, configure func(*Options, *Collaborators)) *harness {
	t.Helper()
	h := &harness{
		recognizer: recognizer,
		translator: translate.NewMock(),
		synth:      tts.NewMock(),
		player:     audioio.NewMockPlayer(),
		events:     &recorder{},
	}

	opts := DefaultOptions()
	opts.StageCooldown = time.Millisecond
	opts.SegmentCooldown = time.Millisecond
	opts.Observers = []Observer{h.events}

	c := Collaborators{
		Classifier:  classifier,
		Recognizer:  recognizer,
		Translator:  h.translator,
		Synthesizer: tts.NewSynthesizer(h.synth, nil),
		Player:      h.player,
	}
	if configure != nil {
		configure(&opts, &c)
	}

	o, err := New(c, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.o = o
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.o.Stop(ctx)
	})
}

func (h *harness) feed(n int) {
	for i := 0; i < n; i++ {
		h.o.Ingest(audioio.AudioChunk{Samples: make([]float32, 512), SampleRate: 16000, Channels: 1})
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestModeFiltered(t *testing.T) {
	mode := translate.MustParseMode("fr-en", [2]string{"fr", "en"})
	tests := []struct {
		name    string
		in      Recognized
		wantOK  bool
		wantDst string
	}{
		{"source language translated", Recognized{Text: "Bonjour", Language: "fr"}, true, "en"},
		{"target language dropped", Recognized{Text: "Hello", Language: "en"}, false, ""},
		{"other language dropped", Recognized{Text: "Hallo", Language: "de"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := translate.NewMock()
			out, ok, err := ModeFiltered{Translator: tr}.Translate(context.Background(), tt.in, mode)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			calls := tr.Calls()
			if !tt.wantOK {
				if len(calls) != 0 {
					t.Errorf("dropped item must not reach the translator, got %+v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0].Text != tt.in.Text || calls[0].Src != tt.in.Language || calls[0].Dst != tt.wantDst {
				t.Errorf("unexpected calls %+v", calls)
			}
			if out.Language != tt.wantDst || out.SourceText != tt.in.Text {
				t.Errorf("unexpected output %+v", out)
			}
		})
	}
}

func TestCounterpart(t *testing.T) {
	pair := [2]string{"fr", "en"}
	mode := translate.MustParseMode("fr-en", pair)
	tests := []struct {
		lang string
		dst  string
	}{
		{"fr", "en"},
		{"en", "fr"},
		{"de", "fr"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			tr := translate.NewMock()
			out, ok, err := Counterpart{Translator: tr, Pair: pair}.Translate(context.Background(), Recognized{Text: "x", Language: tt.lang}, mode)
			if err != nil || !ok {
				t.Fatalf("expected translation, got ok=%v err=%v", ok, err)
			}
			if out.Language != tt.dst {
				t.Errorf("expected %s, got %s", tt.dst, out.Language)
			}
		})
	}
}

func TestTranslateTo_ErrorsAndEmpty(t *testing.T) {
	mode := translate.MustParseMode("bidirectional", [2]string{"fr", "en"})
	in := Recognized{Text: "Bonjour", Language: "fr"}

	failing := &translate.Mock{TranslateFunc: func(context.Context, string, string, string) (string, error) {
		return "", errors.New("quota")
	}}
	if _, _, err := (ModeFiltered{Translator: failing}).Translate(context.Background(), in, mode); err == nil {
		t.Error("expected translator error to propagate")
	}

	blank := &translate.Mock{TranslateFunc: func(context.Context, string, string, string) (string, error) {
		return "  ", nil
	}}
	if _, ok, err := (ModeFiltered{Translator: blank}).Translate(context.Background(), in, mode); ok || err != nil {
		t.Errorf("expected blank translation to be dropped, got ok=%v err=%v", ok, err)
	}
}

func TestNew_Validation(t *testing.T) {
	base := Collaborators{
		Classifier:  vad.NewScript(),
		Recognizer:  asr.NewMock("", ""),
		Translator:  translate.NewMock(),
		Synthesizer: tts.NewSynthesizer(tts.NewMock(), nil),
		Player:      audioio.NewMockPlayer(),
	}

	if _, err := New(Collaborators{}, DefaultOptions()); !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}

	opts := DefaultOptions()
	opts.UseDevice = true
	if _, err := New(base, opts); !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput without device, got %v", err)
	}

	opts = DefaultOptions()
	opts.Mode = "fr-de"
	if _, err := New(base, opts); !errors.Is(err, translate.ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	h := newHarness(t, vad.Speech(20, 30), asr.NewMock("Bonjour", "fr"), nil)
	h.start(t)
	h.feed(50)

	waitFor(t, "playback", func() bool { return len(h.player.Calls()) == 1 })

	rc := h.recognizer.Calls()
	if len(rc) != 1 || rc[0].Samples != 20*512 || rc[0].SampleRate != 16000 || rc[0].Language != "" {
		t.Errorf("unexpected recognizer calls %+v", rc)
	}

	tc := h.translator.Calls()
	if len(tc) != 1 || tc[0].Text != "Bonjour" || tc[0].Src != "fr" || tc[0].Dst != "en" {
		t.Errorf("unexpected translator calls %+v", tc)
	}

	sc := h.synth.LastCall()
	if sc == nil || sc.Request.Text != "[en] Bonjour" || sc.Request.Voice != tts.VoiceEnglish || sc.Request.Locale != "en-us" {
		t.Errorf("unexpected synthesis call %+v", sc)
	}

	pc := h.player.Calls()[0]
	if pc.SampleRate != 24000 || pc.DeviceID != "" || len(pc.Samples) == 0 {
		t.Errorf("unexpected playback %+v", pc)
	}

	waitFor(t, "spoken event", func() bool { return len(h.events.kinds()) == 4 })
	want := []EventKind{EventUtterance, EventRecognized, EventTranslated, EventSpoken}
	for i, k := range h.events.kinds() {
		if k != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], k)
		}
	}
}

func TestPipeline_DirectionalDrop(t *testing.T) {
	h := newHarness(t, vad.Speech(5, 25), asr.NewMock("Hello", "en"), nil)
	h.start(t)
	h.feed(30)

	waitFor(t, "translation stage", func() bool { return h.o.Status().Stages[2].Processed == 1 })

	if len(h.translator.Calls()) != 0 {
		t.Error("english input must not be translated in fr-en mode")
	}
	time.Sleep(20 * time.Millisecond)
	if h.synth.CallCount("Synthesize") != 0 || len(h.player.Calls()) != 0 {
		t.Error("dropped utterance must never reach synthesis")
	}
}

func TestPipeline_BidirectionalDetection(t *testing.T) {
	h := newHarness(t, vad.Speech(3, 25), asr.NewMock("Hello", "en"), func(o *Options, _ *Collaborators) {
		o.Mode = "bidirectional"
	})
	h.start(t)
	h.feed(28)

	waitFor(t, "playback", func() bool { return len(h.player.Calls()) == 1 })

	if got := h.recognizer.Calls()[0].Language; got != "" {
		t.Errorf("expected auto-detect, got %q", got)
	}
	if got := h.translator.Calls()[0].Dst; got != "fr" {
		t.Errorf("expected en->fr, got %s", got)
	}
	if got := h.synth.LastCall().Request.Voice; got != tts.VoiceFrench {
		t.Errorf("expected french voice, got %s", got)
	}
}

func TestPipeline_DetectionInDirectionalMode(t *testing.T) {
	tests := []struct {
		name      string
		detected  string
		translate bool
	}{
		{"english speaker dropped in fr-en", "en", false},
		{"french speaker translated", "fr", true},
		{"undetected falls back to mode source", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, vad.Speech(3, 25), asr.NewMock("texte", tt.detected), nil)
			h.start(t)
			h.feed(28)

			waitFor(t, "translation stage", func() bool { return h.o.Status().Stages[2].Processed == 1 })

			if got := h.recognizer.Calls()[0].Language; got != "" {
				t.Errorf("recognizer must detect the language, got hint %q", got)
			}
			tc := h.translator.Calls()
			if tt.translate {
				if len(tc) != 1 || tc[0].Src != "fr" || tc[0].Dst != "en" {
					t.Errorf("expected fr->en translation, got %+v", tc)
				}
			} else if len(tc) != 0 {
				t.Errorf("expected no translation, got %+v", tc)
			}
		})
	}
}

func TestPipeline_RecognizerFailureIsolated(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	rec := &asr.Mock{TranscribeFunc: func(ctx context.Context, samples []float32, rate int, lang string) (asr.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return asr.Result{}, errors.New("service unavailable")
		}
		return asr.Result{Text: "Bonjour", Language: "fr"}, nil
	}}

	script := vad.NewScript(
		true, true, false, false, false, // first utterance (hangover 3)
		true, true, false, false, false, // second utterance
	)
	h := newHarness(t, script, rec, func(o *Options, _ *Collaborators) { o.Hangover = 3 })
	h.start(t)
	h.feed(10)

	waitFor(t, "second utterance played", func() bool { return len(h.player.Calls()) == 1 })

	if failed := h.o.Status().Stages[1].Failed; failed != 1 {
		t.Errorf("expected 1 failed recognition, got %d", failed)
	}
}

func TestPipeline_EmptyRecognitionDropped(t *testing.T) {
	h := newHarness(t, vad.Speech(2, 25), asr.NewMock("   ", "fr"), nil)
	h.start(t)
	h.feed(27)

	waitFor(t, "recognition", func() bool { return h.o.Status().Stages[1].Processed == 1 })
	time.Sleep(20 * time.Millisecond)

	if h.o.Status().Stages[2].Processed != 0 {
		t.Error("empty text must not reach translation")
	}
}

func TestSetTranslationMode(t *testing.T) {
	h := newHarness(t, vad.NewScript(), asr.NewMock("", ""), nil)

	if err := h.o.SetTranslationMode("en-fr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.o.Status().TranslationMode; got != "en-fr" {
		t.Errorf("expected en-fr, got %s", got)
	}

	for _, bad := range []string{"fr-de", "klingon", ""} {
		if err := h.o.SetTranslationMode(bad); !errors.Is(err, translate.ErrInvalidMode) {
			t.Errorf("SetTranslationMode(%q): expected ErrInvalidMode, got %v", bad, err)
		}
	}
	if got := h.o.Mode().String(); got != "en-fr" {
		t.Errorf("invalid mode must keep previous, got %s", got)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, vad.NewScript(), asr.NewMock("", ""), nil)
	ctx := context.Background()

	if h.o.Done() != nil {
		t.Error("Done must be nil before Start")
	}
	if err := h.o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !h.o.Status().Running {
		t.Error("expected running")
	}
	if err := h.o.Start(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := h.o.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case <-h.o.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if h.o.Running() {
		t.Error("expected not running")
	}
	if err := h.o.Stop(stopCtx); err != nil {
		t.Errorf("second Stop must be a no-op, got %v", err)
	}
}

func TestStop_WhenParentCancelled(t *testing.T) {
	h := newHarness(t, vad.NewScript(), asr.NewMock("", ""), nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := h.o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	done := h.o.Done()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stages did not observe cancellation")
	}
}

func newDevice(server *vdevice.FakeServer, player *audioio.MockPlayer) *vdevice.Device {
	cfg := vdevice.DefaultConfig()
	cfg.RedirectDelay = time.Millisecond
	return vdevice.New(cfg, server, player, nil)
}

func TestPipeline_DeviceOutput(t *testing.T) {
	server := vdevice.NewFakeServer()
	var device *vdevice.Device

	h := newHarness(t, vad.Speech(4, 25), asr.NewMock("Bonjour", "fr"), func(o *Options, c *Collaborators) {
		o.UseDevice = true
		c.Player.(*audioio.MockPlayer).AddDevice(audioio.OutputDevice{ID: "vox-transync-mic-output"})
		device = newDevice(server, c.Player.(*audioio.MockPlayer))
		c.Device = device
	})
	h.start(t)

	st := h.o.Status()
	if !st.UseVirtualMic || st.VirtualMicName != "vox-transync-mic" || st.Output != "virtual-mic" {
		t.Fatalf("unexpected status %+v", st)
	}

	h.feed(29)
	waitFor(t, "device playback", func() bool { return len(h.player.Calls()) == 1 })

	pc := h.player.Calls()[0]
	if pc.DeviceID != "vox-transync-mic-output" || pc.SampleRate != 48000 {
		t.Errorf("expected 48kHz playback on the sink, got %q at %d", pc.DeviceID, pc.SampleRate)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.o.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(server.Modules()); n != 0 {
		t.Errorf("expected device torn down, %d modules left", n)
	}
	if h.o.Status().UseVirtualMic {
		t.Error("expected device flag cleared after stop")
	}
}

func TestPipeline_DeviceFailureFallsBack(t *testing.T) {
	server := vdevice.NewFakeServer()
	server.LoadErr["module-remap-source"] = errors.New("no such module")

	h := newHarness(t, vad.NewScript(), asr.NewMock("", ""), func(o *Options, c *Collaborators) {
		o.UseDevice = true
		c.Device = newDevice(server, c.Player.(*audioio.MockPlayer))
	})
	h.start(t)

	st := h.o.Status()
	if st.UseVirtualMic || st.Output != "default" {
		t.Errorf("expected default output fallback, got %+v", st)
	}
	if len(server.Modules()) != 0 {
		t.Error("expected partial device rolled back")
	}
}

func TestPipeline_DeviceRetriedWithoutDefaultOutput(t *testing.T) {
	server := vdevice.NewFakeServer()
	server.SetLoadErr("module-remap-source", errors.New("no such module"))

	var decisions []bool
	for i := 0; i < 2; i++ {
		decisions = append(decisions, true, true, true, true)
		decisions = append(decisions, make([]bool, 25)...)
	}

	var device *vdevice.Device
	h := newHarness(t, vad.NewScript(decisions...), asr.NewMock("Bonjour", "fr"), func(o *Options, c *Collaborators) {
		o.UseDevice = true
		player := c.Player.(*audioio.MockPlayer)
		player.AddDevice(audioio.OutputDevice{ID: "vox-transync-mic-output"})
		device = newDevice(server, player)
		c.Device = device
		c.Player = nil
	})
	h.start(t)

	st := h.o.Status()
	if st.UseVirtualMic || st.Output != "virtual-mic" {
		t.Fatalf("expected device output pending creation, got %+v", st)
	}

	h.feed(29)
	waitFor(t, "failed delivery", func() bool { return h.o.Status().Stages[3].Failed == 1 })
	if n := device.QueueLen(); n != 0 {
		t.Errorf("undeliverable audio must not be queued, got %d clips", n)
	}

	server.SetLoadErr("module-remap-source", nil)
	h.feed(29)
	waitFor(t, "device playback", func() bool { return len(h.player.Calls()) == 1 })

	if pc := h.player.Calls()[0]; pc.DeviceID != "vox-transync-mic-output" || pc.SampleRate != 48000 {
		t.Errorf("expected playback on the sink, got %q at %d", pc.DeviceID, pc.SampleRate)
	}
	if !h.o.Status().UseVirtualMic {
		t.Error("expected virtual mic in use once created")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.o.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(server.Modules()); n != 0 {
		t.Errorf("expected device torn down, %d modules left", n)
	}
}

func TestStop_FinishesInFlightSynthesis(t *testing.T) {
	h := newHarness(t, vad.Speech(3, 25), asr.NewMock("Bonjour", "fr"), nil)
	started := make(chan struct{})
	var once sync.Once
	h.synth.SynthesizeFunc = func(ctx context.Context, req tts.Request) (*tts.AudioResult, error) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return tts.NewMock().SynthesizeFunc(ctx, req)
	}
	h.start(t)
	h.feed(28)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.o.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(h.player.Calls()); n != 1 {
		t.Errorf("expected the in-flight utterance to be spoken, got %d playbacks", n)
	}
}

func TestIngest_Normalizes(t *testing.T) {
	h := newHarness(t, vad.NewScript(), asr.NewMock("", ""), nil)

	// Stereo 48kHz in PCM16 range.
	src := make([]float32, 2*1536)
	for i := range src {
		src[i] = 16384
	}
	h.o.Ingest(audioio.AudioChunk{Samples: src, SampleRate: 48000, Channels: 2})

	got, ok := h.o.audio.TryPop()
	if !ok {
		t.Fatal("expected a queued chunk")
	}
	if len(got) != 512 {
		t.Errorf("expected 512 mono samples at 16kHz, got %d", len(got))
	}
	if got[0] != 0.5 {
		t.Errorf("expected normalized 0.5, got %v", got[0])
	}
	if src[0] != 16384 {
		t.Error("caller buffer must not be modified")
	}

	h.o.Ingest(audioio.AudioChunk{})
	if h.o.audio.Len() != 0 {
		t.Error("empty chunk must be ignored")
	}
}
