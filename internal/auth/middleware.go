package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/slogutil"
)

// UserContextKey is the fiber local holding the authenticated username.
const UserContextKey = "user"

// Middleware resolves the session from the JWT cookie or a Bearer header and
// stores the username in the request locals. It never rejects a request.
func Middleware(s *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s == nil {
			return c.Next()
		}

		raw := c.Cookies(CookieName)
		if raw == "" {
			if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
				raw = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if raw == "" {
			return c.Next()
		}

		user, err := s.Verify(raw)
		if err != nil {
			s.logger.Debug("Ignoring session token", "error", err)
			return c.Next()
		}

		c.Locals(UserContextKey, user)
		c.SetUserContext(slogutil.WithUser(c.UserContext(), user))
		return c.Next()
	}
}

// RequireSession redirects anonymous page requests to /login.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetUser(c) == "" {
			return c.Redirect("/login", fiber.StatusFound)
		}
		return c.Next()
	}
}

// RequireAPISession rejects anonymous API requests with 401.
func RequireAPISession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetUser(c) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "non_auth"})
		}
		return c.Next()
	}
}

// GetUser returns the authenticated username, or "" for anonymous requests.
func GetUser(c *fiber.Ctx) string {
	user, _ := c.Locals(UserContextKey).(string)
	return user
}

// SetSessionCookie stores a freshly issued token in the session cookie.
func (s *Service) SetSessionCookie(c *fiber.Ctx, raw string, expires time.Time) {
	cfg := s.configGetter()
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    raw,
		Path:     "/",
		Domain:   cfg.Auth.CookieDomain,
		Expires:  expires,
		Secure:   cfg.Auth.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (s *Service) ClearSessionCookie(c *fiber.Ctx) {
	cfg := s.configGetter()
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Auth.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Auth.CookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
