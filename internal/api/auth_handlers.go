package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/auth"
)

// handleLoginPage handles GET /login
func (s *Server) handleLoginPage(c *fiber.Ctx) error {
	if auth.GetUser(c) != "" {
		return c.Redirect("/", fiber.StatusFound)
	}
	return c.JSON(fiber.Map{
		"message": "POST username and password to /login",
	})
}

// handleLogin handles POST /login with a form or JSON body
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c)
	}

	username := strings.TrimSpace(req.Username)
	if err := s.authService.Authenticate(username, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return RespondUnauthorized(c, ErrCodeInvalidCredentials)
		}
		return err
	}

	token, expires, err := s.authService.Issue(username)
	if err != nil {
		return err
	}
	s.authService.SetSessionCookie(c, token, expires)

	s.logger.InfoContext(c.UserContext(), "User logged in", "user", username)

	if isFormPost(c) {
		return c.Redirect("/", fiber.StatusFound)
	}

	return c.JSON(LoginResponse{
		OK:        true,
		User:      username,
		ExpiresAt: expires,
	})
}

// handleLogout handles GET /logout
func (s *Server) handleLogout(c *fiber.Ctx) error {
	s.authService.ClearSessionCookie(c)
	return c.Redirect("/login", fiber.StatusFound)
}

func isFormPost(c *fiber.Ctx) bool {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	return strings.HasPrefix(ct, fiber.MIMEApplicationForm) || strings.HasPrefix(ct, fiber.MIMEMultipartForm)
}
