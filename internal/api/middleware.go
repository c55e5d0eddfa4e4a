package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/javi11/docvault/internal/slogutil"
)

// RequestContextMiddleware tags the request context with a request id so every
// *Context log line of the request can be correlated.
func RequestContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		} else {
			id = strings.Clone(id)
		}
		c.Set(fiber.HeaderXRequestID, id)
		c.SetUserContext(slogutil.With(c.UserContext(), "request_id", id))
		return c.Next()
	}
}

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		slog.DebugContext(c.UserContext(), "HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
			"remote_addr", c.IP(),
		)

		return err
	}
}

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware() fiber.Handler {
	return recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e any) {
			slog.ErrorContext(c.UserContext(), "API panic recovered", "error", e, "path", c.Path())
		},
	})
}
