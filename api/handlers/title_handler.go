package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
)

// TitleHandler serves the configured titles and their manifest state
type TitleHandler struct {
	registry *app.Registry
	logger   *zap.Logger
}

// NewTitleHandler creates a new title handler
func NewTitleHandler(registry *app.Registry, logger *zap.Logger) *TitleHandler {
	return &TitleHandler{
		registry: registry,
		logger:   logger,
	}
}

// TitleStatus is one configured title with its local version
type TitleStatus struct {
	domain.Title
	LocalVersion string `json:"local_version,omitempty"`
	Installing   bool   `json:"installing"`
}

// NeedDownloadResponse describes what a title has to fetch next
type NeedDownloadResponse struct {
	Title         string           `json:"title"`
	UpToDate      bool             `json:"up_to_date"`
	Kind          app.ResourceKind `json:"kind,omitempty"`
	LocalVersion  string           `json:"local_version,omitempty"`
	TargetVersion string           `json:"target_version,omitempty"`
	Size          int64            `json:"size,omitempty"`
	Decompressed  int64            `json:"decompressed_size,omitempty"`
}

// ListTitles handles GET /api/v1/titles
func (h *TitleHandler) ListTitles(c *gin.Context) {
	titles := h.registry.Titles()
	out := make([]TitleStatus, 0, len(titles))
	for _, t := range titles {
		status := TitleStatus{Title: t}
		if v, err := h.registry.Resolver().LocalVersion(t); err == nil {
			status.LocalVersion = v
		} else {
			h.logger.Warn("Failed to read local version", zap.String("title", t.ID), zap.Error(err))
		}
		_, status.Installing = h.registry.Get(t.ID)
		out = append(out, status)
	}
	c.JSON(http.StatusOK, out)
}

// NeedDownload handles GET /api/v1/titles/:title/resource
func (h *TitleHandler) NeedDownload(c *gin.Context) {
	title, ok := h.findTitle(c)
	if !ok {
		return
	}

	sel, err := h.registry.Resolver().GetNeedDownloadResource(c.Request.Context(), title)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := NeedDownloadResponse{Title: title.ID, UpToDate: sel == nil}
	if sel != nil {
		langs, err := h.registry.Resolver().AudioLanguages(title)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Kind = sel.Kind
		resp.LocalVersion = sel.LocalVersion
		resp.TargetVersion = sel.TargetVersion
		resp.Size, resp.Decompressed = domain.TotalSize(sel.Resource.FilesFor(langs))
	}
	c.JSON(http.StatusOK, resp)
}

// CheckPreDownload handles GET /api/v1/titles/:title/predownload
func (h *TitleHandler) CheckPreDownload(c *gin.Context) {
	title, ok := h.findTitle(c)
	if !ok {
		return
	}

	done, err := h.registry.CheckPreDownload(c.Request.Context(), title.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": title.ID, "complete": done})
}

func (h *TitleHandler) findTitle(c *gin.Context) (domain.Title, bool) {
	id := c.Param("title")
	for _, t := range h.registry.Titles() {
		if t.ID == id {
			return t, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
	return domain.Title{}, false
}
