package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/gameinstall-go/api/handlers"
	"github.com/yourusername/gameinstall-go/api/middleware"
	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

// SetupRouter sets up the HTTP router over the install registry
func SetupRouter(
	registry *app.Registry,
	logAdapter *logger.LoggerAdapter,
	logsDir string,
	progressInterval time.Duration,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	log := logAdapter.Main()

	// Middleware
	router.Use(middleware.LoggerWithAdapter(logAdapter))
	router.Use(middleware.Recovery(logAdapter))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(registry)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		installHandler := handlers.NewInstallHandler(registry, log)
		wsHandler := handlers.NewInstallWebSocketHandler(registry, progressInterval, log)
		installs := v1.Group("/installs")
		{
			installs.POST("", installHandler.StartInstall)
			installs.GET("", installHandler.ListInstalls)
			installs.GET("/:title", installHandler.GetInstall)
			installs.GET("/:title/progress", installHandler.GetProgress)
			installs.GET("/:title/ws", wsHandler.StreamInstall)
			installs.POST("/:title/pause", installHandler.PauseInstall)
			installs.POST("/:title/continue", installHandler.ContinueInstall)
			installs.POST("/:title/cancel", installHandler.CancelInstall)
		}
		v1.GET("/events/ws", wsHandler.StreamRegistry)

		v1.GET("/ratelimit", installHandler.GetRateLimit)
		v1.PUT("/ratelimit", installHandler.SetRateLimit)

		titleHandler := handlers.NewTitleHandler(registry, log)
		titles := v1.Group("/titles")
		{
			titles.GET("", titleHandler.ListTitles)
			titles.GET("/:title/resource", titleHandler.NeedDownload)
			titles.GET("/:title/predownload", titleHandler.CheckPreDownload)
		}

		historyHandler := handlers.NewHistoryHandler(registry, log)
		history := v1.Group("/history")
		{
			history.GET("", historyHandler.ListHistory)
			history.GET("/stats", historyHandler.GetStats)
		}

		logHandler := handlers.NewLogHandler(logsDir)
		logWS := handlers.NewLogWebSocketHandler(logsDir, log)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
			logs.GET("/:category/ws", logWS.HandleWebSocket)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
