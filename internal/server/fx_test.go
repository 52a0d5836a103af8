package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.APIKey = "secret-key-123"
	cfg.Store.Backend = "memory"
	cfg.Archive.Backend = "none"
	cfg.Ledger.DSN = ""
	cfg.Notify = config.NotifyConfig{}
	cfg.Headless.Enabled = false
	cfg.Tags.APIKey = ""
	return cfg
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-key-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildServesLinksWithMemoryBackends(t *testing.T) {
	app, err := BuildWithLogger(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	rec := call(t, app.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, app.Handler(), http.MethodPost, "/v1/links", `{"title":"Hello World","url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Regexp(t, `^hello-world-\d+$`, body["slug"])

	// Without a ledger no link can be looked up.
	rec = call(t, app.Handler(), http.MethodGet, "/v1/links/"+body["slug"].(string), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildReportsOptionalFeatures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tags.APIKey = "sk-test"
	cfg.Archive.Backend = "local"
	cfg.Archive.BaseDir = t.TempDir()

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	rec := call(t, app.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["tags"])
	assert.Equal(t, false, body["headless"])

	rec = call(t, app.Handler(), http.MethodGet, "/v1/links/screenshot?url=https://example.com", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRejectsMalformedRepository(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "github"
	cfg.Store.Repository = "bad"
	cfg.Store.Token = "token"

	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github store init failed")
}
