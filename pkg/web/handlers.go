package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/transync/pkg/hub"
	"github.com/teslashibe/transync/pkg/translate"
)

// handleStatus returns the pipeline snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// ModeRequest is the request body for switching the translation mode
type ModeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode switches the translation mode
func (s *Server) handleSetMode(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.ctrl.SetTranslationMode(req.Mode); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, translate.ErrInvalidMode) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"mode":  s.ctrl.Status().TranslationMode,
		})
	}

	return c.JSON(fiber.Map{
		"mode": s.ctrl.Status().TranslationMode,
	})
}

// handleGetTranscript returns recent transcript entries
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	return c.JSON(s.Transcript())
}

// handleStatusWS sends the current snapshot, then periodic updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	data, err := hub.Encode("status", s.ctrl.Status())
	if err != nil || c.WriteMessage(websocket.TextMessage, data) != nil {
		return
	}
	s.serveClient(s.statusHub, c)
}

// handleTranscriptWS sends the transcript backlog, then live entries
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	for _, entry := range s.Transcript() {
		data, err := hub.Encode("transcript", entry)
		if err != nil || c.WriteMessage(websocket.TextMessage, data) != nil {
			return
		}
	}
	s.serveClient(s.transcriptHub, c)
}

func (s *Server) serveClient(h *hub.Hub, c *websocket.Conn) {
	client, err := hub.NewClient(h, c)
	if err != nil {
		return
	}
	client.Run()
}
