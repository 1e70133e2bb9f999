// Package web serves the translator's status dashboard API.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/transync/pkg/hub"
	"github.com/teslashibe/transync/pkg/pipeline"
)

// Controller is the part of the pipeline the dashboard drives.
type Controller interface {
	Status() pipeline.Status
	SetTranslationMode(mode string) error
}

// TranscriptEntry is one line of the live transcript.
type TranscriptEntry struct {
	Time        string `json:"time"`
	UtteranceID string `json:"utterance_id"`
	Kind        string `json:"kind"` // recognized, translated
	Language    string `json:"language"`
	Text        string `json:"text"`
	Source      string `json:"source,omitempty"`
}

const maxTranscript = 200

// Options configures a Server.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// StatusInterval is how often the status snapshot is pushed to
	// websocket clients.
	StatusInterval time.Duration

	// OnStatus, when set, receives every pushed snapshot.
	OnStatus func(pipeline.Status)

	Logger *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	ctrl   Controller
	opts   Options
	logger *slog.Logger

	transcript   []TranscriptEntry
	transcriptMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub     *hub.Hub
	transcriptHub *hub.Hub
}

var _ pipeline.Observer = (*Server)(nil)

// NewServer creates a new web dashboard server
func NewServer(ctrl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}

	s := &Server{
		ctrl:          ctrl,
		opts:          opts,
		logger:        opts.Logger.With("component", "web.server"),
		transcript:    make([]TranscriptEntry, 0, maxTranscript),
		statusHub:     hub.New("status", opts.Logger),
		transcriptHub: hub.New("transcript", opts.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Transync",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Put("/mode", s.handleSetMode)
	api.Get("/transcript", s.handleGetTranscript)

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve runs the hubs and status pusher, and serves on ln until ctx is
// done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.statusHub.Run(ctx)
	go s.transcriptHub.Run(ctx)
	go s.pushStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.ctrl.Status()
			if s.opts.OnStatus != nil {
				s.opts.OnStatus(st)
			}
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON("status", st); err != nil {
				s.logger.Warn("status encode failed", "error", err)
			}
		}
	}
}

// OnEvent records recognized and translated text in the transcript and
// pushes it to websocket clients.
func (s *Server) OnEvent(e pipeline.Event) {
	var entry TranscriptEntry
	switch e.Kind {
	case pipeline.EventRecognized:
		entry = TranscriptEntry{Kind: string(e.Kind), Language: e.Language, Text: e.Text}
	case pipeline.EventTranslated:
		entry = TranscriptEntry{Kind: string(e.Kind), Language: e.Language, Text: e.Text, Source: e.SourceText}
	default:
		return
	}
	entry.UtteranceID = e.UtteranceID.String()
	entry.Time = e.Time.Format("15:04:05")

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	if len(s.transcript) > maxTranscript {
		s.transcript = s.transcript[1:]
	}
	s.transcriptMu.Unlock()

	if err := s.transcriptHub.BroadcastJSON("transcript", entry); err != nil {
		s.logger.Warn("transcript encode failed", "error", err)
	}
}

// Transcript returns a copy of the recent transcript.
func (s *Server) Transcript() []TranscriptEntry {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}
