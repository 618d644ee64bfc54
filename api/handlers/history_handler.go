package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/app"
)

// HistoryHandler serves persisted install records
type HistoryHandler struct {
	registry *app.Registry
	logger   *zap.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(registry *app.Registry, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		registry: registry,
		logger:   logger,
	}
}

// ListHistory handles GET /api/v1/history
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	filters := make(map[string]interface{})
	for _, key := range []string{"title", "task", "status"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	records, err := h.registry.History(filters)
	if err != nil {
		h.logger.Error("Failed to list history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetStats handles GET /api/v1/history/stats
func (h *HistoryHandler) GetStats(c *gin.Context) {
	stats, err := h.registry.HistoryStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
