package app

import (
	"context"
	"net/http"
	"time"

	"bonzai/pkg/client"
	httputil "bonzai/pkg/http"
	"bonzai/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

const readinessTimeout = 2 * time.Second

type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Check reports whether one backing dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	log    *logger.Logger
}

func NewHealthHandler(checks map[string]Check, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		log:    log,
	}
}

// ClientChecks builds one readiness check per connection held by c.
func ClientChecks(c *client.Client) map[string]Check {
	checks := make(map[string]Check)
	if c == nil {
		return checks
	}
	if c.Mongo != nil {
		checks["mongo"] = func(ctx context.Context) error { return c.Mongo.Ping(ctx, nil) }
	}
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.FromContext(ctx).Error("Dependency health check failed",
				"dependency", name,
				"error", err,
				"path", r.URL.Path,
			)
			deps[name] = "error"
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	if err := httputil.WriteJSON(w, code, HealthResponse{
		Status:       status,
		Dependencies: deps,
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
