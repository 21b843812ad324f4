package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/common/config"
	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/common/tracing"
	"github.com/agenthub/agenthub/internal/events"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/internal/observability"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
	"github.com/agenthub/agenthub/pkg/protocol"
)

// Handler contains the HTTP handlers of the dispatch surface.
type Handler struct {
	registry *registry.Registry
	sessions *session.Manager
	bus      bus.EventBus
	cfg      config.HubConfig
	logger   *logger.Logger
	tracer   trace.Tracer
}

// NewHandler creates a new API handler.
func NewHandler(reg *registry.Registry, sessions *session.Manager, eventBus bus.EventBus, cfg config.HubConfig, log *logger.Logger) *Handler {
	return &Handler{
		registry: reg,
		sessions: sessions,
		bus:      eventBus,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "api")),
		tracer:   tracing.Tracer("api"),
	}
}

// Dispatch submits a task to a connected device.
// POST /api/dispatch
func (h *Handler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Malformed bodies fail the field checks below
		req = DispatchRequest{}
	}

	if req.ClientID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Empty client ID"})
		return
	}
	if req.Request == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Empty task content"})
		return
	}

	device, online := h.registry.GetDevice(req.ClientID)
	if !online {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Client not online"})
		return
	}

	taskName := req.TaskName
	if taskName == "" {
		taskName = uuid.New().String()
	}
	sessionID := uuid.New().String()

	_, span := h.tracer.Start(c.Request.Context(), "hub.dispatch",
		trace.WithAttributes(
			attribute.String("client.id", req.ClientID),
			attribute.String("task.name", taskName),
			attribute.String("session.id", sessionID),
		))
	defer span.End()

	h.registry.AddDeviceSession(device.ID, sessionID)

	onResult := func(id string, msg protocol.Message) {
		if err := device.Transport.Send(msg); err != nil {
			h.logger.Debug("Result not delivered to device",
				zap.String("session_id", id), zap.Error(err))
		}
	}

	platform := device.Platform
	if platform == "" {
		platform = h.cfg.DefaultPlatform
	}

	if err := h.sessions.ExecuteAsync(sessionID, taskName, req.Request, platform, device.Transport, onResult); err != nil {
		h.registry.RemoveDeviceSession(device.ID, sessionID)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("Failed to dispatch task",
			zap.String("client_id", req.ClientID),
			zap.String("task_name", taskName),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	h.logger.Info("Task dispatched",
		zap.String("client_id", req.ClientID),
		zap.String("task_name", taskName),
		zap.String("session_id", sessionID))
	observability.RecordTaskDispatched("http")
	h.publishTaskEvent(sessionID, taskName, device.ID)

	c.JSON(http.StatusOK, DispatchResponse{
		Status:    "dispatched",
		TaskName:  taskName,
		ClientID:  req.ClientID,
		SessionID: sessionID,
	})
}

// ListClients returns the ids of all connected clients.
// GET /api/clients
func (h *Handler) ListClients(c *gin.Context) {
	c.JSON(http.StatusOK, ClientsResponse{OnlineClients: h.registry.List()})
}

// TaskResult reports the recorded outcome for a task name. Unknown names are
// pending, never 404: the client cannot tell "not yet" from "never heard of".
// GET /api/task_result/:task_name
func (h *Handler) TaskResult(c *gin.Context) {
	result, ok := h.sessions.GetResultByTask(c.Param("task_name"))
	if !ok {
		c.JSON(http.StatusOK, TaskResultResponse{Status: "pending"})
		return
	}
	c.JSON(http.StatusOK, TaskResultResponse{Status: "done", Result: result.Payload})
}

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		OnlineClients: h.registry.List(),
	})
}

func (h *Handler) publishTaskEvent(sessionID, taskName, targetID string) {
	if h.bus == nil {
		return
	}
	event := bus.NewEvent(events.TaskDispatched, "api", map[string]any{
		"session_id": sessionID,
		"task_name":  taskName,
		"origin_id":  "http",
		"target_id":  targetID,
	})
	subject := events.BuildTaskSubject(events.TaskDispatched, sessionID)
	if err := h.bus.Publish(context.Background(), subject, event); err != nil {
		h.logger.Warn("Failed to publish task event",
			zap.String("subject", subject), zap.Error(err))
	}
}
