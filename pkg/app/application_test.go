package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bonzai/pkg/client"
	"bonzai/pkg/config"
	"bonzai/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/ping", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusCreated)
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Second,
		RequestTimeout:    time.Second,
		IdempotencyTTL:    time.Hour,
		MaxRequestSize:    1024,
		ReadTimeout:       time.Second,
		WriteTimeout:      time.Second,
		IdleTimeout:       time.Second,
		ShutdownTimeout:   time.Second,
		Log:               logger.Discard(),
		Client:            client.NewClient(),
	}
}

func TestApplicationRoutes(t *testing.T) {
	a := NewApplication(testConfig(), prometheus.NewRegistry())
	a.SetApp(pingHandler{})
	t.Cleanup(func() {
		a.idempotencyStore.Stop()
		a.rateLimiter.Stop()
	})
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "no connections configured means nothing to wait for")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ping", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bonzai_http_requests_total{code="201",method="POST"} 1`)
}

func TestReady_ReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"mongo": func(ctx context.Context) error { return nil },
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	}, logger.Discard())
	router := httprouter.New()
	h.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `"redis":"error"`) && strings.Contains(body, `"mongo":"ok"`), body)
}

func TestClientChecks_Empty(t *testing.T) {
	assert.Empty(t, ClientChecks(client.NewClient()))
	assert.Empty(t, ClientChecks(nil))
}
