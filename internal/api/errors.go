package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	derrors "github.com/javi11/docvault/internal/errors"
)

// Error codes returned in the "error" field of JSON responses
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "non_auth"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeConflict           = "conflict"
	ErrCodeSyncNotRunning     = "sync_not_running"
	ErrCodeInternalServer     = "internal_error"
)

// ErrorHandler logs errors returned by handlers and renders them as {"error": msg}.
// Server errors are rendered as internal_error.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		msg := err.Error()
		if code >= fiber.StatusInternalServerError {
			logger.ErrorContext(c.UserContext(), "Request failed", "path", c.Path(), "method", c.Method(), "error", err)
			// Details stay in the log
			msg = ErrCodeInternalServer
		}

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
		})
	}
}

// respondDocumentError maps a failure to fetch or open a document to a response.
func respondDocumentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, derrors.ErrInvalidKey), errors.Is(err, derrors.ErrBadRequest):
		return RespondBadRequest(c)
	case derrors.IsNotFound(err):
		return RespondNotFound(c)
	case errors.Is(err, context.Canceled):
		// Client went away while waiting for a fetch
		return nil
	default:
		slog.ErrorContext(c.UserContext(), "Failed to serve document", "error", err)
		return RespondInternalError(c)
	}
}
