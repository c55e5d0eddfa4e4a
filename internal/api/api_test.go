package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/docvault/internal/auth"
	"github.com/javi11/docvault/internal/cache"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/database"
	"github.com/javi11/docvault/internal/fetch"
	"github.com/javi11/docvault/internal/qrcode"
	"github.com/javi11/docvault/internal/remote/local"
	"github.com/javi11/docvault/internal/stream"
	"github.com/javi11/docvault/internal/syncer"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	mu         sync.Mutex
	triggerErr error
	triggers   int
	async      int
}

func (f *fakeSync) Status() syncer.Status {
	return syncer.Status{IsRunning: true}
}

func (f *fakeSync) Trigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return f.triggerErr
}

func (f *fakeSync) TriggerAsync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.async++
}

type testEnv struct {
	app    *fiber.App
	db     *database.DB
	cache  *cache.Cache
	sync   *fakeSync
	cookie string
	pdf    []byte
}

func pdfContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Users = []config.UserConfig{{Username: "cgeds", Password: "pass"}}
	cfg.Server.BaseURL = "https://docs.example.com"
	getter := func() *config.Config { return cfg }

	pdf := pdfContent(1000)
	remoteFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(remoteFs, "/RAPPORT_CL/a.pdf", pdf, 0644))
	require.NoError(t, afero.WriteFile(remoteFs, "/RAPPORT_CL/b.pdf", []byte("%PDF-b"), 0644))

	db := database.NewTestDB(t)
	_, err := db.Documents.SyncDocuments(ctx, []database.DocumentRecord{
		{Relpath: "RAPPORT_CL/a.pdf", Name: "a.pdf", RemoteID: "RAPPORT_CL/a.pdf", Size: 1000},
		{Relpath: "RAPPORT_CL/b.pdf", Name: "b.pdf", RemoteID: "RAPPORT_CL/b.pdf", Size: 6},
		{Relpath: "RAPPORT_CL/gone.pdf", Name: "gone.pdf", RemoteID: "RAPPORT_CL/gone.pdf", Size: 10},
		{Relpath: "RECLAMATION/élan.pdf", Name: "élan.pdf", RemoteID: "RECLAMATION/élan.pdf", Size: 10},
	})
	require.NoError(t, err)

	c, err := cache.New(afero.NewMemMapFs(), cache.Options{ChecksumCacheSize: 8})
	require.NoError(t, err)

	orch := fetch.NewOrchestrator(c, fetch.NewGuard(c), db.Documents, local.New(remoteFs), fetch.Options{})
	tracker := stream.NewTracker()
	t.Cleanup(tracker.Stop)

	authService, err := auth.NewService(getter)
	require.NoError(t, err)
	qr, err := qrcode.NewGenerator(0, 8)
	require.NoError(t, err)

	fs := &fakeSync{}
	srv := NewServer(Dependencies{
		ConfigGetter: getter,
		Documents:    db.Documents,
		Cache:        c,
		Fetcher:      orch,
		Streamer:     stream.NewStreamer(0, tracker),
		Auth:         authService,
		Sync:         fs,
		QR:           qr,
	})

	app := NewApp(cfg, slog.Default())
	srv.SetupRoutes(app)

	token, _, err := authService.Issue("cgeds")
	require.NoError(t, err)

	return &testEnv{
		app:    app,
		db:     db,
		cache:  c,
		sync:   fs,
		cookie: auth.CookieName + "=" + token,
		pdf:    pdf,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request, authed bool) *http.Response {
	t.Helper()
	if authed {
		req.Header.Set("Cookie", e.cookie)
	}
	resp, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, target string, headers ...string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(t, req, true)
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) document(t *testing.T, relpath string) *database.DocumentRecord {
	t.Helper()
	doc, err := e.db.Documents.Get(context.Background(), relpath)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/live", nil), false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	live := decode[LiveResponse](t, resp)
	assert.Equal(t, "ok", live.Status)

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(readBody(t, resp)), "docvault_")
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/type/RAPPORT_CL", nil), false)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/stats", nil), false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "non_auth"}, decode[map[string]string](t, resp))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"cgeds","password":"pass"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := env.do(t, req, false)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[LoginResponse](t, resp)
		assert.True(t, body.OK)
		assert.Equal(t, "cgeds", body.User)
		assert.Contains(t, resp.Header.Get("Set-Cookie"), auth.CookieName+"=")
	})

	t.Run("form", func(t *testing.T) {
		form := url.Values{"username": {" cgeds "}, "password": {"pass "}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp := env.do(t, req, false)

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"cgeds","password":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := env.do(t, req, false)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, map[string]string{"error": "invalid_credentials"}, decode[map[string]string](t, resp))
	})

	t.Run("logout", func(t *testing.T) {
		resp := env.get(t, "/logout")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
		assert.True(t, strings.HasPrefix(resp.Header.Get("Set-Cookie"), auth.CookieName+"=;"))
	})
}

func TestStream(t *testing.T) {
	tests := []struct {
		name        string
		rangeHeader string
		wantStatus  int
		wantBody    []byte
		wantRange   string
		wantView    bool
	}{
		{name: "full", wantStatus: http.StatusOK, wantBody: pdfContent(1000), wantView: true},
		{name: "first 100", rangeHeader: "bytes=0-99", wantStatus: http.StatusPartialContent,
			wantBody: pdfContent(1000)[:100], wantRange: "bytes 0-99/1000", wantView: true},
		{name: "open ended", rangeHeader: "bytes=500-", wantStatus: http.StatusPartialContent,
			wantBody: pdfContent(1000)[500:], wantRange: "bytes 500-999/1000", wantView: true},
		{name: "malformed", rangeHeader: "bytes=abc", wantStatus: http.StatusOK, wantBody: pdfContent(1000), wantView: true},
		{name: "unsatisfiable", rangeHeader: "bytes=2000-", wantStatus: http.StatusRequestedRangeNotSatisfiable,
			wantRange: "bytes */1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			var headers []string
			if tt.rangeHeader != "" {
				headers = []string{"Range", tt.rangeHeader}
			}
			resp := env.get(t, "/stream/RAPPORT_CL/a.pdf", headers...)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
			if tt.wantRange != "" {
				assert.Equal(t, tt.wantRange, resp.Header.Get("Content-Range"))
			}
			body := readBody(t, resp)
			if tt.wantBody != nil {
				assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
				assert.Equal(t, tt.wantBody, body)
				assert.Equal(t, int64(len(tt.wantBody)), resp.ContentLength)
			}

			wantViews := int64(0)
			if tt.wantView {
				wantViews = 1
			}
			doc := env.document(t, "RAPPORT_CL/a.pdf")
			assert.Equal(t, wantViews, doc.Views)
			assert.True(t, env.cache.Has("RAPPORT_CL/a.pdf"))
		})
	}
}

func TestStream_Errors(t *testing.T) {
	env := newTestEnv(t)

	// No record, so no remote id
	resp := env.get(t, "/stream/DIVERS/unknown.pdf")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Known record, but the remote file is gone
	resp = env.get(t, "/stream/RAPPORT_CL/gone.pdf")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.cache.Has("RAPPORT_CL/gone.pdf"))

	resp = env.get(t, "/stream/%2E%2E/etc/passwd")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "bad_request"}, decode[map[string]string](t, resp))
}

func TestStream_DoubledExtensionAndEscapes(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/stream/RAPPORT_CL/a.pdf.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pdfContent(1000), readBody(t, resp))

	resp = env.get(t, "/stream/RAPPORT_CL%2Fa.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReportAndView(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/report/RECLAMATION/%C3%A9lan.pdf")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/stream/RECLAMATION/%C3%A9lan.pdf", resp.Header.Get("Location"))

	doc := env.document(t, "RECLAMATION/élan.pdf")
	assert.Equal(t, int64(1), doc.Views)
	assert.Equal(t, database.StatusRead, doc.Status)

	resp = env.get(t, "/view/RAPPORT_CL/a.pdf")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/stream/RAPPORT_CL/a.pdf", resp.Header.Get("Location"))
	assert.Zero(t, env.document(t, "RAPPORT_CL/a.pdf").Views)
}

func TestPDFAndDownload(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/pdf/RAPPORT_CL/b.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "%PDF-b", string(readBody(t, resp)))
	assert.Equal(t, "inline; filename=b.pdf", resp.Header.Get("Content-Disposition"))
	assert.Zero(t, env.document(t, "RAPPORT_CL/b.pdf").Views)

	resp = env.get(t, "/download/RAPPORT_CL/b.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=b.pdf", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, int64(1), env.document(t, "RAPPORT_CL/b.pdf").Downloads)

	resp = env.get(t, "/download/RAPPORT_CL/gone.pdf")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, env.document(t, "RAPPORT_CL/gone.pdf").Downloads)
}

func TestDownloadAll(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/download_all/RAPPORT_CL")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=RAPPORT_CL.zip", resp.Header.Get("Content-Disposition"))

	body := readBody(t, resp)
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"RAPPORT_CL/a.pdf", "RAPPORT_CL/b.pdf"}, names)

	assert.Equal(t, int64(1), env.document(t, "RAPPORT_CL/a.pdf").Downloads)
	assert.Equal(t, int64(1), env.document(t, "RAPPORT_CL/b.pdf").Downloads)
	assert.Zero(t, env.document(t, "RAPPORT_CL/gone.pdf").Downloads)
}

func TestMarkStatus(t *testing.T) {
	env := newTestEnv(t)

	post := func(body string, authed bool) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/mark_status", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(t, req, authed)
	}

	resp := post(`{"relpath":"RAPPORT_CL/a.pdf","status":"lu"}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, body := range []string{
		`not json`,
		`{"relpath":"RAPPORT_CL/a.pdf","status":"maybe"}`,
		`{"status":"lu"}`,
		`{"relpath":"../a.pdf","status":"lu"}`,
	} {
		resp = post(body, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, map[string]string{"error": "bad_request"}, decode[map[string]string](t, resp))
	}

	resp = post(`{"relpath":"RAPPORT_CL/a.pdf","status":"lu"}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"ok": true}, decode[map[string]bool](t, resp))
	assert.Equal(t, database.StatusRead, env.document(t, "RAPPORT_CL/a.pdf").Status)

	resp = post(`{"relpath":"RAPPORT_CL/a.pdf","status":"non_lu"}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, database.StatusUnread, env.document(t, "RAPPORT_CL/a.pdf").Status)

	resp = env.get(t, "/api/history/RAPPORT_CL/a.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[HistoryResponse](t, resp)
	require.Len(t, history.History, 2)
	assert.Equal(t, database.ActionMarkRead, history.History[0].Action)
	assert.Equal(t, database.ActionMarkUnread, history.History[1].Action)
	assert.Equal(t, "cgeds", history.History[0].User)

	resp = env.get(t, "/api/history/DIVERS/none.pdf")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/report/RAPPORT_CL/a.pdf")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp = env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[StatsResponse](t, resp)

	assert.Equal(t, config.DefaultOfficialTypes, stats.Labels)
	require.Len(t, stats.Totals, len(config.DefaultOfficialTypes))

	idx := map[string]int{}
	for i, l := range stats.Labels {
		idx[l] = i
	}
	assert.Equal(t, int64(3), stats.Totals[idx["RAPPORT_CL"]])
	assert.Equal(t, int64(1), stats.Views[idx["RAPPORT_CL"]])
	assert.Equal(t, int64(1), stats.Lus[idx["RAPPORT_CL"]])
	assert.Equal(t, int64(2), stats.NonLus[idx["RAPPORT_CL"]])
	assert.Equal(t, int64(1), stats.Totals[idx["RECLAMATION"]])
}

func TestTypePageAndSearch(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/type/RAPPORT_CL?per_page=1&page=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[TypePageResponse](t, resp)
	assert.Equal(t, "CERTIFICAT DE LOCALISATION", page.PageTitle)
	assert.Equal(t, 5, page.PerPage)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Total)
	assert.Empty(t, page.Reports)
	assert.Equal(t, "all", page.StatusFilter)

	resp = env.get(t, "/type/RAPPORT_CL?q=B.PDF&status=bogus")
	page = decode[TypePageResponse](t, resp)
	require.Len(t, page.Reports, 1)
	assert.Equal(t, "RAPPORT_CL/b.pdf", page.Reports[0].Relpath)
	assert.Equal(t, "6 B", page.Reports[0].SizeHuman)

	resp = env.get(t, "/type/RAPPORT_CL?status=lu")
	page = decode[TypePageResponse](t, resp)
	assert.Equal(t, "lu", page.StatusFilter)
	assert.Zero(t, page.Total)

	resp = env.get(t, "/search?q=ELAN")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	search := decode[SearchResponse](t, resp)
	assert.Equal(t, "ELAN", search.Query)
	require.Len(t, search.Hits, 1)
	assert.Equal(t, "RECLAMATION/élan.pdf", search.Hits[0].Relpath)

	resp = env.get(t, "/report-categories")
	categories := decode[CategoriesResponse](t, resp)
	assert.Equal(t, "Types de rapports", categories.PageTitle)
	assert.Equal(t, config.DefaultOfficialTypes, categories.OfficialTypes)

	resp = env.get(t, "/")
	dashboard := decode[DashboardResponse](t, resp)
	assert.Equal(t, "cgeds", dashboard.User)
	assert.Len(t, dashboard.OfficialTypes, len(config.DefaultOfficialTypes))
}

func TestDriveWebhook(t *testing.T) {
	tests := []struct {
		state     string
		wantAsync int
	}{
		{state: "exists", wantAsync: 1},
		{state: "updated", wantAsync: 1},
		{state: "sync", wantAsync: 0},
		{state: "", wantAsync: 0},
	}

	for _, tt := range tests {
		t.Run("state_"+tt.state, func(t *testing.T) {
			env := newTestEnv(t)
			req := httptest.NewRequest(http.MethodPost, "/drive_webhook", nil)
			if tt.state != "" {
				req.Header.Set("X-Goog-Resource-State", tt.state)
			}
			resp := env.do(t, req, false)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Empty(t, readBody(t, resp))
			assert.Equal(t, tt.wantAsync, env.sync.async)
		})
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/sync/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[syncer.Status](t, resp).IsRunning)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	resp = env.do(t, req, true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	env.sync.triggerErr = syncer.ErrSyncAlreadyTriggered
	req = httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	resp = env.do(t, req, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, 2, env.sync.triggers)
}

func TestQRCode(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/generate_qr/RAPPORT_CL/a.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=a.pdf_qr.png", resp.Header.Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(readBody(t, resp), []byte("\x89PNG")))

	resp = env.get(t, "/qr/RAPPORT_CL/a.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	qr := decode[QRPageResponse](t, resp)
	assert.Equal(t, "https://docs.example.com/report/RAPPORT_CL/a.pdf", qr.ReportURL)
	assert.Equal(t, "/generate_qr/RAPPORT_CL/a.pdf", qr.QRURL)
}

func TestCacheAndStreams(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/pdf/RAPPORT_CL/a.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)

	resp = env.get(t, "/api/cache")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := decode[CacheResponse](t, resp)
	assert.Equal(t, 1, usage.Entries)
	assert.Equal(t, int64(1000), usage.Bytes)
	assert.Empty(t, usage.InFlight)

	resp = env.get(t, "/api/streams")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	streams := decode[StreamsResponse](t, resp)
	assert.Equal(t, len(streams.Streams), streams.Count)
}
