package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/pkg/logger"
)

// Recovery turns handler panics into a JSON 500 in the shape the install
// API uses for errors and records them in the error category
func Recovery(logAdapter *logger.LoggerAdapter) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered interface{}) {
		fields := []zap.Field{
			zap.Any("error", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		}
		if title := c.Param("title"); title != "" {
			fields = append(fields, zap.String("title", title))
		}

		logAdapter.LogError(logger.CategoryError, "Panic recovered", append(fields, zap.Stack("stack"))...)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"message": "The server hit an unexpected error.",
		})
	})
}
