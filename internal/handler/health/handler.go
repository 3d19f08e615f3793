package health

import (
	"net/http"

	"github.com/TomasB/geolookup/internal/data"
	"github.com/gin-gonic/gin"
)

// Reporter reports dataset availability.
type Reporter interface {
	Health() data.HealthStatus
	Datasets() []data.DatasetInfo
}

// Response is the body of GET /health.
type Response struct {
	Status string `json:"status"`
	data.HealthStatus
}

// Handler manages health check endpoints
type Handler struct {
	reporter   Reporter
	requireAll bool
}

// NewHandler creates a new health check handler. With requireAll set, /health
// answers 503 unless every configured dataset is loaded.
func NewHandler(reporter Reporter, requireAll bool) *Handler {
	return &Handler{reporter: reporter, requireAll: requireAll}
}

// Health reports per-dataset availability
// GET /health
func (h *Handler) Health(c *gin.Context) {
	status := h.reporter.Health()

	resp := Response{Status: "ok", HealthStatus: status}
	if !status.AllLoaded {
		resp.Status = "degraded"
	}

	code := http.StatusOK
	if h.requireAll && !status.AllLoaded {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, resp)
}

// Ready is the readiness probe endpoint
// GET /ready
func (h *Handler) Ready(c *gin.Context) {
	if !h.reporter.Health().AnyLoaded() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "no dataset loaded",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// Ping is the liveness probe endpoint
// GET /ping
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ping": "pong",
	})
}

// Datasets lists dataset metadata
// GET /api/v1/datasets
func (h *Handler) Datasets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"datasets": h.reporter.Datasets(),
	})
}
