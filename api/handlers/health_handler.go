package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/gameinstall-go/internal/app"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *app.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry *app.Registry) *HealthHandler {
	return &HealthHandler{
		registry: registry,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Installs struct {
		Active    int   `json:"active"`
		RateLimit int64 `json:"rate_limit"`
	} `json:"installs"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Installs.Active = len(h.registry.List())
	response.Installs.RateLimit = h.registry.RateLimit()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if len(h.registry.Titles()) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "no titles configured",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
