package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const pingTimeout = 2 * time.Second

// Pinger is anything readiness depends on. *sqlx.DB and *storage.Store both
// satisfy it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Check struct {
	Name   string
	Pinger Pinger
}

type Handler struct {
	checks []Check
}

func NewHandler(checks ...Check) *Handler {
	return &Handler{
		checks: checks,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// ReadinessCheck runs every check under one shared deadline and reports DOWN
// when any of them fails.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Pinger.PingContext(ctx); err != nil {
			results[check.Name] = "DOWN"
			ready = false
			continue
		}
		results[check.Name] = "UP"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"checks": results,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "checks": results})
}
