package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
)

// SetupRoutes configures the dispatch surface routes.
func SetupRoutes(router *gin.RouterGroup, reg *registry.Registry, sessions *session.Manager, eventBus bus.EventBus, cfg config.HubConfig, log *logger.Logger) {
	handler := NewHandler(reg, sessions, eventBus, cfg, log)

	router.POST("/dispatch", handler.Dispatch)
	router.GET("/clients", handler.ListClients)
	router.GET("/task_result/:task_name", handler.TaskResult)
	router.GET("/health", handler.Health)
}
