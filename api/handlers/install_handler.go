package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/app"
)

// InstallHandler handles install-related HTTP requests
type InstallHandler struct {
	registry *app.Registry
	logger   *zap.Logger
}

// NewInstallHandler creates a new install handler
func NewInstallHandler(registry *app.Registry, logger *zap.Logger) *InstallHandler {
	return &InstallHandler{
		registry: registry,
		logger:   logger,
	}
}

// StartInstall handles POST /api/v1/installs
func (h *InstallHandler) StartInstall(c *gin.Context) {
	var req app.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.registry.StartInstall(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to start install",
			zap.String("title", req.Title),
			zap.String("task", string(req.Task)),
			zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

// ListInstalls handles GET /api/v1/installs
func (h *InstallHandler) ListInstalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"installs": h.registry.List(),
		"speed":    h.registry.Speed(),
	})
}

// GetInstall handles GET /api/v1/installs/:title
func (h *InstallHandler) GetInstall(c *gin.Context) {
	info, err := h.registry.Info(c.Param("title"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetProgress handles GET /api/v1/installs/:title/progress
func (h *InstallHandler) GetProgress(c *gin.Context) {
	snap, err := h.registry.Progress(c.Param("title"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// PauseInstall handles POST /api/v1/installs/:title/pause
func (h *InstallHandler) PauseInstall(c *gin.Context) {
	title := c.Param("title")
	if err := h.registry.Pause(title); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "install paused"})
}

// ContinueInstall handles POST /api/v1/installs/:title/continue
func (h *InstallHandler) ContinueInstall(c *gin.Context) {
	title := c.Param("title")
	if err := h.registry.Continue(title); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "install continued"})
}

// CancelInstall handles POST /api/v1/installs/:title/cancel
func (h *InstallHandler) CancelInstall(c *gin.Context) {
	title := c.Param("title")
	if err := h.registry.Cancel(title); err != nil {
		h.logger.Error("Failed to cancel install", zap.String("title", title), zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "install canceled"})
}

// RateLimitRequest sets the shared bandwidth ceiling
type RateLimitRequest struct {
	BytesPerSecond *int64 `json:"bytes_per_second" binding:"required"`
}

// GetRateLimit handles GET /api/v1/ratelimit
func (h *InstallHandler) GetRateLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bytes_per_second": h.registry.RateLimit()})
}

// SetRateLimit handles PUT /api/v1/ratelimit
func (h *InstallHandler) SetRateLimit(c *gin.Context) {
	var req RateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.SetRateLimit(*req.BytesPerSecond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes_per_second": h.registry.RateLimit()})
}
