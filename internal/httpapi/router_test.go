package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/midas/internal/appctx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	app, err := appctx.New(context.Background(), "test", filepath.Join(dir, "midas.yaml"))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return NewService(app, "test")
}

func doRequest(s *Service, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUngated(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.OK)
}

func TestReadyReflectsShutdown(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/api/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	s.ready.Store(false)
	rec = doRequest(s, http.MethodGet, "/api/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSecurityHeadersAppliedToEveryResponse(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRequestIDIsEchoedBack(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "fixed-id", env.RequestID)
}

func TestConfigEditableRoundTrip(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/api/config/editable")
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.OK)
}

func TestListBilibiliNotesEmptyStore(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/api/notes/bilibili")
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.OK)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(0), data["total"])
}

func TestClearNotesRequiresConfirmDestructive(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodDelete, "/api/notes/bilibili")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.False(t, env.OK)
	require.Equal(t, "INVALID_INPUT", env.Code)
}

func TestSwaggerJSONServed(t *testing.T) {
	s := newTestService(t)
	rec := doRequest(s, http.MethodGet, "/docs/swagger.json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "\"swagger\"")
}
