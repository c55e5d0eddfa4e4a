package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("miss")))
}

func TestRecordFetch(t *testing.T) {
	bytesBefore := testutil.ToFloat64(fetchBytes)
	errorsBefore := testutil.ToFloat64(fetchErrors)

	RecordFetch(100, time.Second, true)
	RecordFetch(0, time.Second, false)

	assert.Equal(t, bytesBefore+100, testutil.ToFloat64(fetchBytes))
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(fetchErrors))
}

func TestMiddlewareAndHandler(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/type/:type", func(c *fiber.Ctx) error { return c.SendString("ok") })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/type/:type", "200"))

	resp, err := app.Test(httptest.NewRequest("GET", "/type/RAPPORT_CL", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/type/:type", "200")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "docvault_http_requests_total"))
}
