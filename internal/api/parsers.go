package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/pathutil"
)

const (
	defaultPerPage = 20
	minPerPage     = 5
	maxPerPage     = 500
)

// relpathParam decodes the wildcard segment of a document route into a clean key.
// The result is copied out of the request buffer so it can outlive the handler.
func relpathParam(c *fiber.Ctx) (string, error) {
	return pathutil.KeyFromURLPath(strings.Clone(c.Params("*")))
}

// typeParam decodes the :type segment of a route.
func typeParam(c *fiber.Ctx) (string, bool) {
	raw, err := url.PathUnescape(c.Params("type"))
	if err != nil {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "." || raw == ".." || strings.ContainsAny(raw, "/\\") {
		return "", false
	}
	return strings.Clone(raw), true
}

// queryInt parses an integer query parameter, falling back to def when it is
// missing or malformed and clamping it to [lo, hi] (hi <= 0 means unbounded).
func queryInt(c *fiber.Ctx, name string, def, lo, hi int) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		v = def
	}
	if v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}

// statusFilter parses the status query parameter. Anything but lu and non_lu means all.
func statusFilter(c *fiber.Ctx) (database.DocumentStatus, string) {
	raw := strings.TrimSpace(c.Query("status", "all"))
	if status, ok := database.ParseStatus(raw); ok {
		return status, raw
	}
	return "", "all"
}

// escapeRelpath escapes each segment of relpath for use in a URL path.
func escapeRelpath(relpath string) string {
	segments := strings.Split(relpath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// cleanRelpath validates a relpath coming from a request body.
func cleanRelpath(raw string) (string, error) {
	return pathutil.CleanKey(strings.Clone(raw))
}
