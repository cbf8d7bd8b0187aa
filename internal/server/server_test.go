package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"funnel-agent/internal/browser"
	"funnel-agent/internal/config"
	"funnel-agent/internal/driver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewConfig()
	factory := func() (*browser.Session, error) {
		return nil, errors.New("no browser in tests")
	}
	runner := driver.NewRunner(cfg, zap.NewNop(), factory)
	return New(cfg, zap.NewNop(), runner)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestRunRejectsEmptyRequest(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(`{}`))
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunRejectsConcurrentBatch(t *testing.T) {
	srv := newTestServer(t)
	srv.mu.Lock()
	srv.running = true
	srv.mu.Unlock()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/run",
		strings.NewReader(`{"urls":["https://quiz.example.com"]}`))
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResultsBeforeAnyBatch(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader("not json"))
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
