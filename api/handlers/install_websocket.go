package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/app"
)

// ProgressMessage is one frame of the install progress stream
type ProgressMessage struct {
	Type     string                `json:"type"`
	Event    *app.Event            `json:"event,omitempty"`
	Progress *app.ProgressSnapshot `json:"progress,omitempty"`
}

// RegistryMessage is one frame of the registry event stream
type RegistryMessage struct {
	Type     string             `json:"type"`
	Event    app.RegistryEvent  `json:"event"`
	Installs []*app.InstallInfo `json:"installs"`
}

// InstallWebSocketHandler streams install progress to the UI
type InstallWebSocketHandler struct {
	registry *app.Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewInstallWebSocketHandler creates a handler sending a snapshot every
// interval
func NewInstallWebSocketHandler(registry *app.Registry, interval time.Duration, log *zap.Logger) *InstallWebSocketHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &InstallWebSocketHandler{
		registry: registry,
		interval: interval,
		logger:   log,
	}
}

// StreamInstall handles GET /api/v1/installs/:title/ws. The stream ends
// after the engine's terminal event.
func (h *InstallWebSocketHandler) StreamInstall(c *gin.Context) {
	title := c.Param("title")
	events, unsubscribe, err := h.registry.SubscribeInstall(title, 64)
	if err != nil {
		respondError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go readPump(conn, cancel)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	sendProgress := func() error {
		snap, err := h.registry.Progress(title)
		if err != nil {
			// removed from the registry, the terminal event follows
			return nil
		}
		return writeJSON(conn, ProgressMessage{Type: "progress", Progress: &snap})
	}
	if err := sendProgress(); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == app.EventProgress {
				continue
			}
			if err := writeJSON(conn, ProgressMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
			if ev.Type.IsTerminal() {
				return
			}
		case <-ticker.C:
			if err := sendProgress(); err != nil {
				return
			}
		case <-pings.C:
			if err := writePing(conn); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// StreamRegistry handles GET /api/v1/events/ws
func (h *InstallWebSocketHandler) StreamRegistry(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := h.registry.Subscribe(16)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go readPump(conn, cancel)

	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := RegistryMessage{Type: string(ev.Type), Event: ev, Installs: h.registry.List()}
			if err := writeJSON(conn, msg); err != nil {
				return
			}
		case <-pings.C:
			if err := writePing(conn); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
