package api

import (
	"mime"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// reportURL returns the absolute URL of the report page of key.
func (s *Server) reportURL(c *fiber.Ctx, key string) string {
	base := strings.TrimRight(s.configGetter().Server.BaseURL, "/")
	if base == "" {
		base = c.BaseURL()
	}
	return base + "/report/" + escapeRelpath(key)
}

// handleGenerateQR handles GET /generate_qr/*: a PNG QR code of the report URL
func (s *Server) handleGenerateQR(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	png, err := s.qr.PNG(s.reportURL(c, key))
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderContentDisposition,
		mime.FormatMediaType("inline", map[string]string{"filename": path.Base(key) + "_qr.png"}))
	return c.Send(png)
}

// handleQRPage handles GET /qr/*
func (s *Server) handleQRPage(c *fiber.Ctx) error {
	key, err := relpathParam(c)
	if err != nil {
		return RespondBadRequest(c)
	}

	return c.JSON(QRPageResponse{
		Relpath:   key,
		QRURL:     "/generate_qr/" + escapeRelpath(key),
		ReportURL: s.reportURL(c, key),
	})
}
