// Package gateway accepts WebSocket connections and runs the per-connection
// protocol lifecycle: registration, the registered dispatch loop, and
// disconnect cleanup.
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
	"github.com/agenthub/agenthub/internal/transport"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are devices and constellations, not browsers
		return true
	},
}

// Gateway owns the WebSocket endpoint and the connection handlers spawned
// from it.
type Gateway struct {
	registry *registry.Registry
	sessions *session.Manager
	bus      bus.EventBus
	cfg      config.HubConfig
	logger   *logger.Logger
}

// New creates a Gateway.
func New(reg *registry.Registry, sessions *session.Manager, eventBus bus.EventBus, cfg config.HubConfig, log *logger.Logger) *Gateway {
	return &Gateway{
		registry: reg,
		sessions: sessions,
		bus:      eventBus,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "gateway")),
	}
}

// HandleConnection upgrades HTTP to WebSocket and runs the connection
// lifecycle on the request goroutine.
func (g *Gateway) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	conn := transport.NewConn(ws, g.cfg.SendBuffer, g.logger)
	g.logger.Debug("WebSocket connection established",
		zap.String("remote_addr", conn.RemoteAddr()))
	g.serve(conn)
}
