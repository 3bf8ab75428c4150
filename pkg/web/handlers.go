package web

import (
	"errors"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wificam/pkg/hub"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/receiver"
)

// frameInfo is the API view of a stored frame.
type frameInfo struct {
	receiver.Record
	BMPURL     string `json:"bmp_url"`
	PreviewURL string `json:"preview_url,omitempty"`
}

func toInfo(r receiver.Record) frameInfo {
	info := frameInfo{Record: r, BMPURL: "/api/frames/" + r.ID}
	if len(r.Preview) > 0 {
		info.PreviewURL = "/api/frames/" + r.ID + "/preview"
	}
	return info
}

// handleStatus returns receiver counters and connected devices
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": s.Status(),
		"hubs": fiber.Map{
			"status": s.statusHub.Stats(),
			"frames": s.framesHub.Stats(),
		},
	})
}

// handleListFrames returns stored frames, newest first
func (s *Server) handleListFrames(c *fiber.Ctx) error {
	records := s.rx.Store().List()
	frames := make([]frameInfo, 0, len(records))
	for _, r := range records {
		frames = append(frames, toInfo(r))
	}
	return c.JSON(fiber.Map{
		"frames": frames,
		"count":  len(frames),
	})
}

// handleLatestFrame returns metadata for the newest frame
func (s *Server) handleLatestFrame(c *fiber.Ctx) error {
	r, ok := s.rx.Store().Latest()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no frames yet"})
	}
	return c.JSON(toInfo(r))
}

// handleGetFrame serves the frame as BMP
func (s *Server) handleGetFrame(c *fiber.Ctx) error {
	r, ok := s.rx.Store().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "frame not found"})
	}
	if len(r.BMP) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "frame could not be decoded"})
	}
	c.Set(fiber.HeaderContentType, "image/bmp")
	if r.Path != "" {
		c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filepath.Base(r.Path)+`"`)
	}
	return c.Send(r.BMP)
}

// handleGetPreview serves the JPEG preview
func (s *Server) handleGetPreview(c *fiber.Ctx) error {
	r, ok := s.rx.Store().Get(c.Params("id"))
	if !ok || len(r.Preview) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "preview not found"})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(r.Preview)
}

// LabelRequest is the request body for labeling a frame
type LabelRequest struct {
	Label string `json:"label"`
}

// handleLabelFrame records a card label for a saved frame
func (s *Server) handleLabelFrame(c *fiber.Ctx) error {
	if s.labels == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "labeling not configured"})
	}

	id := c.Params("id")
	r, ok := s.rx.Store().Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "frame not found"})
	}

	var req LabelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	image := r.ID
	if r.Path != "" {
		image = filepath.Base(r.Path)
	}
	code, err := s.labels.Set(image, req.Label)
	switch {
	case errors.Is(err, receiver.ErrBadLabel):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, receiver.ErrAlreadyLabeled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.rx.Store().SetLabel(id, code)
	return c.JSON(fiber.Map{
		"image": image,
		"label": code,
	})
}

// handleListLabels returns every recorded label
func (s *Server) handleListLabels(c *fiber.Ctx) error {
	if s.labels == nil {
		return c.JSON(fiber.Map{})
	}
	labels, err := s.labels.All()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(labels)
}

// handleFramesWS streams JPEG previews as binary messages
func (s *Server) handleFramesWS(c *websocket.Conn) {
	hub.Serve(s.framesHub, c)
}

// handleStatusWS sends the current status, then every update
func (s *Server) handleStatusWS(c *websocket.Conn) {
	msg, err := protocol.NewStatusMessage(s.Status())
	if err == nil {
		if data, err := msg.Bytes(); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}
	hub.Serve(s.statusHub, c)
}
