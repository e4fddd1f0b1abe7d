package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/mockpit/internal/config"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/models"
	"github.com/prasenjit/mockpit/internal/storage"
)

func newTestApp(t *testing.T, modify ...func(*config.Config)) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Mock.Host = "127.0.0.1"
	for _, m := range modify {
		m(cfg)
	}
	a, err := newApp(cfg, storage.NewMemoryStorage(100), logging.Discard())
	require.NoError(t, err)
	return a
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestApp_AdminChangesReachMockServer(t *testing.T) {
	a := newTestApp(t)
	admin := a.router.Handler()
	mockEngine := a.mock.Engine()

	w := call(t, admin, "POST", "/api/environments", gin.H{"name": "dev", "variables": gin.H{"greeting": "hello"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(t, admin, "POST", "/api/endpoints", gin.H{"method": "GET", "path": "/api/users/:id"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ep models.Endpoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))

	w = call(t, admin, "PUT", "/api/variants/"+ep.ResponseVariants[0].ID, gin.H{
		"body": `{"id":"{{$pathParams 'id'}}","msg":"{{greeting}}"}`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, mockEngine, "GET", "/api/users/42", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"42","msg":"hello"}`, w.Body.String())

	w = call(t, mockEngine, "GET", "/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var records []models.RequestRecord
	require.Eventually(t, func() bool {
		w := call(t, admin, "GET", "/api/history", nil)
		return json.Unmarshal(w.Body.Bytes(), &records) == nil && len(records) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "/nothing", records[0].Path)

	w = call(t, admin, "GET", "/api/stats", nil)
	var global models.GlobalStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &global))
	assert.Equal(t, int64(1), global.TotalRequests)
	assert.Equal(t, 1, global.ActiveEndpoints)

	w = call(t, admin, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `mockpit_mock_requests_total{matched="true",method="GET",status="200"} 1`)
}

func TestApp_MetricsDisabled(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Metrics.Enabled = false })

	w := call(t, a.router.Handler(), "GET", "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_RunWithBusyMockPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	a := newTestApp(t, func(c *config.Config) { c.Mock.Port = busy.Addr().(*net.TCPAddr).Port })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	status := a.mock.Status()
	assert.False(t, status.Running)
	assert.NotEmpty(t, status.Error)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
