package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanner(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/")

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "success (version test)", resp.Body.String())
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/plain")
}

func TestHealthCheck_Success(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "alice")

	resp := ts.api.Get("/health")

	assert.Equal(t, http.StatusOK, resp.Code)

	var healthResp HealthResponse
	err := json.Unmarshal(resp.Body.Bytes(), &healthResp)
	require.NoError(t, err)

	assert.Equal(t, "healthy", healthResp.Status)
	assert.Equal(t, "healthy", healthResp.Components["store"].Status)
	assert.Equal(t, "1 scans indexed", healthResp.Components["search"].Message)
	assert.Equal(t, "no connected watchers", healthResp.Components["watchers"].Message)
}

func TestHealthCheck_DegradedWithoutIndex(t *testing.T) {
	ts := setupTestServerWith(t, testOptions{noIndex: true})

	resp := ts.api.Get("/health")

	var healthResp HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &healthResp))
	assert.Equal(t, "degraded", healthResp.Status)
	assert.Equal(t, "degraded", healthResp.Components["search"].Status)
}

func TestHealthCheck_UnhealthyStore(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.store.Close())

	resp := ts.api.Get("/health")

	var healthResp HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &healthResp))
	assert.Equal(t, "unhealthy", healthResp.Status)
	assert.Equal(t, "store ping failed", healthResp.Components["store"].Message)
}

func TestHealthCheck_ClosedRegistry(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.registry.Close(context.Background()))

	resp := ts.api.Get("/health")

	var healthResp HealthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &healthResp))
	assert.Equal(t, "degraded", healthResp.Status)
	assert.Equal(t, "unhealthy", healthResp.Components["watchers"].Status)
}

func TestFormatWatcherStatus(t *testing.T) {
	assert.Equal(t, "no connected watchers", formatWatcherStatus(0))
	assert.Equal(t, "1 connected watcher", formatWatcherStatus(1))
	assert.Equal(t, "3 connected watchers", formatWatcherStatus(3))
}
