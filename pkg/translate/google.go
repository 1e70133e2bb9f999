package translate

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gtranslate "google.golang.org/api/translate/v2"

	"github.com/teslashibe/transync/internal/log"
)

// GoogleConfig configures the Cloud Translation binding.
type GoogleConfig struct {
	// APIKey selects key authentication. Empty uses Application Default
	// Credentials.
	APIKey string

	// Endpoint overrides the service endpoint.
	Endpoint string

	// ClientOptions are appended to the derived options.
	ClientOptions []option.ClientOption

	Logger *slog.Logger
}

// Google implements Translator with Cloud Translation v2.
type Google struct {
	svc    *gtranslate.Service
	logger *slog.Logger
}

// NewGoogle creates a Cloud Translation client.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	var opts []option.ClientOption

	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case len(cfg.ClientOptions) == 0:
		ts, err := google.DefaultTokenSource(ctx, gtranslate.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("translate: default credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := gtranslate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("translate: create service: %w", err)
	}

	return &Google{
		svc:    svc,
		logger: log.Or(cfg.Logger).With("component", "translate.google"),
	}, nil
}

// Translate implements Translator.
func (g *Google) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	start := time.Now()

	call := g.svc.Translations.List([]string{text}, dst).Format("text").Context(ctx)
	if src != "" {
		call = call.Source(src)
	}
	resp, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("translate: %s->%s: %w", src, dst, err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("translate: %s->%s: empty response", src, dst)
	}

	out := html.UnescapeString(resp.Translations[0].TranslatedText)
	g.logger.Debug("translated",
		"src", src,
		"dst", dst,
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

var _ Translator = (*Google)(nil)
