package api

import (
	"github.com/gofiber/fiber/v2"
)

// Response helpers shared by the handlers. Errors use a flat {"error": code}
// body that the portal front-end switches on.

// RespondError sends an error response with a custom status code.
func RespondError(c *fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// RespondErrorWithDetails sends an error response with a human readable message.
func RespondErrorWithDetails(c *fiber.Ctx, status int, code, details string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"details": details,
	})
}

// RespondBadRequest sends a 400 Bad Request error.
func RespondBadRequest(c *fiber.Ctx) error {
	return RespondError(c, fiber.StatusBadRequest, ErrCodeBadRequest)
}

// RespondUnauthorized sends a 401 Unauthorized error.
func RespondUnauthorized(c *fiber.Ctx, code string) error {
	return RespondError(c, fiber.StatusUnauthorized, code)
}

// RespondNotFound sends a 404 Not Found error.
func RespondNotFound(c *fiber.Ctx) error {
	return RespondError(c, fiber.StatusNotFound, ErrCodeNotFound)
}

// RespondConflict sends a 409 Conflict error.
func RespondConflict(c *fiber.Ctx, code, details string) error {
	return RespondErrorWithDetails(c, fiber.StatusConflict, code, details)
}

// RespondInternalError sends a 500 Internal Server Error.
func RespondInternalError(c *fiber.Ctx) error {
	return RespondError(c, fiber.StatusInternalServerError, ErrCodeInternalServer)
}

// RespondOK sends {"ok": true}.
func RespondOK(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}
