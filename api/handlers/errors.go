package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
)

// statusFor maps engine and registry errors to HTTP status codes
func statusFor(err error) int {
	var diskErr *domain.DiskSpaceError
	switch {
	case errors.As(err, &diskErr):
		return http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInstallInProgress),
		errors.Is(err, app.ErrCannotPause),
		errors.Is(err, app.ErrUpToDate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity
	case domain.IsTransient(err), errors.Is(err, domain.ErrUnsafePath):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status derived from its kind
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":   err.Error(),
		"message": domain.UserMessage(err),
	})
}
