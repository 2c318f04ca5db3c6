// Package health serves Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages the probe endpoints. Nil dependencies are treated as
// healthy so single-node deployments without Redis stay ready.
type Handler struct {
	store  Pinger
	engine Pinger
}

func NewHandler(store, engine Pinger) *Handler {
	return &Handler{store: store, engine: engine}
}

// LivenessResponse is the liveness probe payload.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness returns 200 whenever the process is alive. No dependency checks.
// GET /health/live
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness returns 200 only when every dependency answers, 503 otherwise.
// GET /health/ready
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"store":  h.check(ctx, "store", h.store),
		"engine": h.check(ctx, "engine", h.engine),
	}

	status, code := "ready", http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status, code = "unavailable", http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "healthy"
	}
	if err := p.Ping(ctx); err != nil {
		logging.Error(ctx, "Readiness check failed", zap.String("dependency", name), zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
