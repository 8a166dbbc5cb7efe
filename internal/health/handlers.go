// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// Pinger verifies a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler answers probe requests.
type Handler struct {
	DB      Pinger
	Redis   *redis.Client
	Timeout time.Duration
}

// Routes mounts the probe endpoints.
func (h Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Live)
	r.Get("/readyz", h.Ready)
}

// Live always answers ok while the process serves requests.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready verifies the database and Redis respond before reporting ready.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	label := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		label = "degraded"
	}
	common.JSON(w, status, map[string]any{
		"status": label,
		"checks": checks,
	})
}
