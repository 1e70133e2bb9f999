package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"google.golang.org/api/option"
)

var frEn = [2]string{"fr", "en"}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"fr-en", "fr-en", false},
		{"en-fr", "en-fr", false},
		{"bidirectional", "bidirectional", false},
		{" FR-EN ", "fr-en", false},
		{"fr-de", "", true},
		{"fr-fr", "", true},
		{"french", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMode(tt.in, frEn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidMode) {
					t.Errorf("expected ErrInvalidMode, got %v", err)
				}
				return
			}
			if m.String() != tt.want {
				t.Errorf("String() = %q, want %q", m.String(), tt.want)
			}
		})
	}
}

func TestParseMode_BadPair(t *testing.T) {
	if _, err := ParseMode("fr-en", [2]string{"fr", "fr"}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode for degenerate pair, got %v", err)
	}
}

func TestModeRoute(t *testing.T) {
	tests := []struct {
		mode   string
		lang   string
		target string
		ok     bool
	}{
		{"fr-en", "fr", "en", true},
		{"fr-en", "en", "", false},
		{"fr-en", "de", "", false},
		{"en-fr", "en", "fr", true},
		{"en-fr", "fr", "", false},
		{"bidirectional", "fr", "en", true},
		{"bidirectional", "en", "fr", true},
		{"bidirectional", "de", "fr", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode+"/"+tt.lang, func(t *testing.T) {
			target, ok := MustParseMode(tt.mode, frEn).Route(tt.lang)
			if target != tt.target || ok != tt.ok {
				t.Errorf("Route(%q) = (%q, %v), want (%q, %v)", tt.lang, target, ok, tt.target, tt.ok)
			}
		})
	}
}

func TestModeFallbackLanguage(t *testing.T) {
	if h := MustParseMode("en-fr", frEn).FallbackLanguage(); h != "en" {
		t.Errorf("expected en, got %q", h)
	}
	if h := MustParseMode("bidirectional", frEn).FallbackLanguage(); h != "" {
		t.Errorf("expected no fallback, got %q", h)
	}
}

func TestMock(t *testing.T) {
	m := NewMock()
	out, err := m.Translate(context.Background(), "Bonjour", "fr", "en")
	if err != nil || out != "[en] Bonjour" {
		t.Fatalf("unexpected %q, %v", out, err)
	}
	if out, _ := m.Translate(context.Background(), "", "fr", "en"); out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
	if len(m.Calls()) != 1 {
		t.Errorf("empty input must not be recorded, got %d calls", len(m.Calls()))
	}
}

func TestGoogle_Translate(t *testing.T) {
	var hits atomic.Int32
	var gotQ, gotSource, gotTarget, gotFormat string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		r.ParseForm()
		gotQ = r.Form.Get("q")
		gotSource = r.Form.Get("source")
		gotTarget = r.Form.Get("target")
		gotFormat = r.Form.Get("format")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"translations": []map[string]string{{"translatedText": "Hello &amp; welcome"}},
			},
		})
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(), GoogleConfig{
		Endpoint:      srv.URL + "/language/translate/",
		ClientOptions: []option.ClientOption{option.WithoutAuthentication(), option.WithHTTPClient(srv.Client())},
	})
	if err != nil {
		t.Fatalf("NewGoogle failed: %v", err)
	}

	out, err := g.Translate(context.Background(), "Bonjour et bienvenue", "fr", "en")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if out != "Hello & welcome" {
		t.Errorf("unexpected translation %q", out)
	}
	if gotQ != "Bonjour et bienvenue" || gotSource != "fr" || gotTarget != "en" || gotFormat != "text" {
		t.Errorf("unexpected request q=%q source=%q target=%q format=%q", gotQ, gotSource, gotTarget, gotFormat)
	}

	// Empty input never reaches the service.
	if out, err := g.Translate(context.Background(), "   ", "fr", "en"); out != "" || err != nil {
		t.Errorf("expected empty result, got %q, %v", out, err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}
