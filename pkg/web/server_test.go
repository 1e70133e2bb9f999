package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/transync/pkg/pipeline"
	"github.com/teslashibe/transync/pkg/translate"
)

type fakeController struct {
	mu   sync.Mutex
	mode string
}

func (f *fakeController) Status() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.Status{Running: true, TranslationMode: f.mode, Output: "default"}
}

func (f *fakeController) SetTranslationMode(mode string) error {
	m, err := translate.ParseMode(mode, [2]string{"fr", "en"})
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.mode = m.String()
	f.mu.Unlock()
	return nil
}

func newTestServer(opts Options) (*Server, *fakeController) {
	ctrl := &fakeController{mode: "fr-en"}
	return NewServer(ctrl, opts), ctrl
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(Options{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var st pipeline.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Running || st.TranslationMode != "fr-en" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandleSetMode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMode string
	}{
		{"valid", `{"mode":"en-fr"}`, http.StatusOK, "en-fr"},
		{"bidirectional", `{"mode":"bidirectional"}`, http.StatusOK, "bidirectional"},
		{"unsupported pair", `{"mode":"fr-de"}`, http.StatusBadRequest, "fr-en"},
		{"malformed body", `{"mode":`, http.StatusBadRequest, "fr-en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctrl := newTestServer(Options{})

			req := httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := s.App().Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantCode {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, resp.StatusCode, body)
			}
			if got := ctrl.Status().TranslationMode; got != tt.wantMode {
				t.Errorf("expected mode %s, got %s", tt.wantMode, got)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "transync_utterances_total 3\n")
	})
	s, _ := newTestServer(Options{Metrics: metrics})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "transync_utterances_total 3") {
		t.Errorf("unexpected metrics body %q", body)
	}

	s, _ = newTestServer(Options{})
	resp, _ = s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without metrics, got %d", resp.StatusCode)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(Options{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/status", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("expected 426, got %d", resp.StatusCode)
	}
}

func TestTranscript(t *testing.T) {
	s, _ := newTestServer(Options{})
	id := uuid.New()

	s.OnEvent(pipeline.Event{Kind: pipeline.EventUtterance, UtteranceID: id, Time: time.Now()})
	s.OnEvent(pipeline.Event{Kind: pipeline.EventRecognized, UtteranceID: id, Text: "Bonjour", Language: "fr", Time: time.Now()})
	s.OnEvent(pipeline.Event{Kind: pipeline.EventTranslated, UtteranceID: id, Text: "Hello", Language: "en", SourceText: "Bonjour", Time: time.Now()})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
	if err != nil {
		t.Fatal(err)
	}
	var entries []TranscriptEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Kind != "translated" || entries[1].Source != "Bonjour" || entries[1].UtteranceID != id.String() {
		t.Errorf("unexpected entry %+v", entries[1])
	}
}

func TestTranscript_Bounded(t *testing.T) {
	s, _ := newTestServer(Options{})
	for i := 0; i < maxTranscript+10; i++ {
		s.OnEvent(pipeline.Event{Kind: pipeline.EventRecognized, Text: "x", Time: time.Now()})
	}
	if n := len(s.Transcript()); n != maxTranscript {
		t.Errorf("expected %d entries, got %d", maxTranscript, n)
	}
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(6 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return ln.Addr().String()
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return env
}

func TestStatusWebsocket(t *testing.T) {
	var pushed sync.WaitGroup
	pushed.Add(1)
	var once sync.Once

	s, _ := newTestServer(Options{
		StatusInterval: 20 * time.Millisecond,
		OnStatus:       func(pipeline.Status) { once.Do(pushed.Done) },
	})
	addr := serve(t, s)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		env := readEnvelope(t, conn)
		if env.Type != "status" {
			t.Fatalf("expected status frame, got %s", env.Type)
		}
		var st pipeline.Status
		if err := json.Unmarshal(env.Data, &st); err != nil {
			t.Fatal(err)
		}
		if st.TranslationMode != "fr-en" {
			t.Errorf("unexpected status %+v", st)
		}
	}
	pushed.Wait()
}

func TestTranscriptWebsocket(t *testing.T) {
	s, _ := newTestServer(Options{})
	addr := serve(t, s)

	s.OnEvent(pipeline.Event{Kind: pipeline.EventRecognized, Text: "Bonjour", Language: "fr", Time: time.Now()})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/transcript", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var entry TranscriptEntry
	backlog := readEnvelope(t, conn)
	if err := json.Unmarshal(backlog.Data, &entry); err != nil {
		t.Fatal(err)
	}
	if backlog.Type != "transcript" || entry.Text != "Bonjour" {
		t.Errorf("unexpected backlog %+v", entry)
	}

	deadline := time.Now().Add(3 * time.Second)
	for s.transcriptHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.OnEvent(pipeline.Event{Kind: pipeline.EventTranslated, Text: "Hello", Language: "en", SourceText: "Bonjour", Time: time.Now()})
	live := readEnvelope(t, conn)
	if err := json.Unmarshal(live.Data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Kind != "translated" || entry.Text != "Hello" {
		t.Errorf("unexpected live entry %+v", entry)
	}
}
