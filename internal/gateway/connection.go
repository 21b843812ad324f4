package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/events"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/internal/observability"
	"github.com/agenthub/agenthub/internal/registry"
	"github.com/agenthub/agenthub/internal/session"
	"github.com/agenthub/agenthub/pkg/protocol"
)

// wire is the slice of the transport a connection handler drives. It is
// satisfied by *transport.Conn.
type wire interface {
	Receive() (protocol.Message, error)
	Send(msg protocol.Message) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// serve runs one connection from registration to cleanup.
func (g *Gateway) serve(conn wire) {
	client, ok := g.register(conn)
	if !ok {
		return
	}
	g.readLoop(client, conn)
	g.cleanup(client, conn)
}

// register accepts exactly one inbound message, which must be a valid
// REGISTER. Anything else is answered with REGISTER_ERROR and the connection
// is closed.
func (g *Gateway) register(conn wire) (*registry.Client, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.RegisterTimeoutDuration()))

	msg, err := conn.Receive()
	if err != nil {
		g.logger.Debug("Connection ended before registration",
			zap.String("remote_addr", conn.RemoteAddr()), zap.Error(err))
		_ = conn.Close()
		return nil, false
	}

	reg, ok := msg.(*protocol.Register)
	if !ok {
		g.reject(conn, "", "first message must be REGISTER")
		return nil, false
	}
	if reg.ClientID == "" {
		g.reject(conn, string(reg.ClientType), "empty client_id")
		return nil, false
	}
	if !reg.ClientType.Valid() {
		g.reject(conn, string(reg.ClientType), fmt.Sprintf("unknown client_type %q", reg.ClientType))
		return nil, false
	}
	if reg.ClientType == protocol.ClientTypeConstellation && reg.TargetID != "" {
		if _, online := g.registry.GetDevice(reg.TargetID); !online {
			g.reject(conn, string(reg.ClientType), "target device not connected")
			return nil, false
		}
	}

	client := &registry.Client{
		ID:          reg.ClientID,
		Type:        reg.ClientType,
		Platform:    reg.Platform,
		Transport:   conn,
		Metadata:    reg.Metadata,
		SystemInfo:  reportedSystemInfo(reg),
		ConnectedAt: time.Now(),
	}

	evicted, drained := g.registry.Add(client)
	if evicted != nil {
		g.cancelDrained(drained)
		_ = evicted.Transport.Close()
		g.publishClientEvent(events.ClientEvicted, evicted)
	}

	if err := protocol.NewRegistration(conn).Confirm(client.ID); err != nil {
		// The registration is already visible; the read loop will fail
		// immediately and run the normal cleanup.
		g.logger.Debug("Failed to send REGISTER_CONFIRM",
			zap.String("client_id", client.ID), zap.Error(err))
	}

	g.logger.Info("Client registered",
		zap.String("client_id", client.ID),
		zap.String("client_type", string(client.Type)),
		zap.String("platform", client.Platform),
		zap.String("remote_addr", conn.RemoteAddr()))
	g.publishClientEvent(events.ClientRegistered, client)
	return client, true
}

// reportedSystemInfo derives the device's self-reported system info from its
// registration. Constellations carry none.
func reportedSystemInfo(reg *protocol.Register) map[string]any {
	if reg.ClientType != protocol.ClientTypeDevice {
		return nil
	}
	return reg.Metadata
}

func (g *Gateway) reject(conn wire, clientType, detail string) {
	g.logger.Info("Registration rejected",
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.String("detail", detail))
	observability.RecordRegistration(clientTypeLabel(clientType), "rejected")
	_ = protocol.NewRegistration(conn).Reject(detail)
	_ = conn.Close()
}

func clientTypeLabel(clientType string) string {
	if clientType == "" {
		return "unknown"
	}
	return clientType
}

// readLoop processes inbound messages sequentially until the transport
// closes or the liveness deadline expires. Every inbound message resets the
// deadline.
func (g *Gateway) readLoop(client *registry.Client, conn wire) {
	liveness := g.cfg.LivenessTimeoutDuration()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(liveness))
		msg, err := conn.Receive()
		if err != nil {
			g.logger.Debug("Connection read loop ended",
				zap.String("client_id", client.ID), zap.Error(err))
			return
		}
		g.dispatch(client, conn, msg)
	}
}

// dispatch routes one inbound message from a registered client.
func (g *Gateway) dispatch(client *registry.Client, conn wire, msg protocol.Message) {
	faults := protocol.NewFaults(conn)

	switch m := msg.(type) {
	case *protocol.Heartbeat:
		_ = protocol.NewKeepalive(conn).Ack(m.Timestamp)

	case *protocol.Task:
		g.handleTask(client, conn, m)

	case *protocol.CommandResults:
		g.handleCommandResults(client, m)

	case *protocol.TaskEnd:
		if !g.sessions.DeviceReportedEnd(m.SessionID, m.Status, m.Result) {
			g.logger.Debug("TASK_END for unknown session",
				zap.String("client_id", client.ID),
				zap.String("session_id", m.SessionID))
		}

	case *protocol.DeviceInfoRequest:
		info, _ := g.registry.DeviceSystemInfo(m.TargetID)
		_ = protocol.NewDeviceInfo(conn).Respond(m.RequestID, info)

	case *protocol.Error:
		g.logger.Warn("Client reported error",
			zap.String("client_id", client.ID),
			zap.String("detail", m.Detail),
			zap.String("session_id", m.SessionID))

	case *protocol.Register:
		_ = faults.Report("already registered")

	case *protocol.Unknown:
		_ = faults.Report(fmt.Sprintf("unknown message type %q", string(m.MessageKind())))

	default:
		// Server-to-client kinds arriving inbound (ACK, COMMAND, ...)
		_ = faults.Report(fmt.Sprintf("unexpected message type %q", string(msg.MessageKind())))
	}
}

// handleTask accepts a TASK submission over the socket. Devices run the task
// themselves; constellations route it to their target device.
func (g *Gateway) handleTask(client *registry.Client, conn wire, task *protocol.Task) {
	faults := protocol.NewFaults(conn)

	sessionID := task.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	taskName := task.TaskName
	if taskName == "" {
		taskName = uuid.New().String()
	}
	if task.Request == "" {
		_ = faults.ReportSession("Empty task content", sessionID)
		return
	}

	var (
		target   *registry.Client
		onResult session.ResultFunc
	)

	if client.Type == protocol.ClientTypeConstellation {
		if task.TargetID == "" {
			_ = faults.ReportSession("Empty target_id", sessionID)
			return
		}
		device, online := g.registry.GetDevice(task.TargetID)
		if !online {
			_ = faults.ReportSession("target device not connected", sessionID)
			return
		}
		target = device
		g.registry.AddOrchestratorSession(client.ID, sessionID)
		g.registry.AddDeviceSession(device.ID, sessionID)

		orchestrator := client
		onResult = func(id string, msg protocol.Message) {
			if err := orchestrator.Transport.Send(msg); err != nil {
				g.logger.Debug("Result not delivered to orchestrator",
					zap.String("session_id", id), zap.Error(err))
			}
			if err := device.Transport.Send(msg); err != nil {
				g.logger.Debug("Result not delivered to device",
					zap.String("session_id", id), zap.Error(err))
			}
		}
	} else {
		target = client
		g.registry.AddDeviceSession(client.ID, sessionID)

		onResult = func(id string, msg protocol.Message) {
			if err := client.Transport.Send(msg); err != nil {
				g.logger.Debug("Result not delivered to device",
					zap.String("session_id", id), zap.Error(err))
			}
		}
	}

	platform := target.Platform
	if platform == "" {
		platform = g.cfg.DefaultPlatform
	}

	err := g.sessions.ExecuteAsync(sessionID, taskName, task.Request, platform, target.Transport, onResult)
	if err != nil {
		// Roll back only the index entries this dispatch added. A submission
		// reusing an active session id must not strip that session's owners.
		if client.Type == protocol.ClientTypeConstellation {
			g.registry.RemoveOrchestratorSession(client.ID, sessionID)
		}
		g.registry.RemoveDeviceSession(target.ID, sessionID)
		g.logger.Warn("Task rejected",
			zap.String("client_id", client.ID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		_ = faults.ReportSession(err.Error(), sessionID)
		return
	}

	observability.RecordTaskDispatched("websocket")
	g.publishTaskEvent(sessionID, taskName, client.ID, target.ID)
	_ = protocol.NewTaskExecution(conn).Accept(sessionID)
}

// handleCommandResults correlates a device's COMMAND_RESULTS back to the
// session loop waiting on it. Unknown sessions and stale correlation ids are
// discarded: results are delivered at most once.
func (g *Gateway) handleCommandResults(client *registry.Client, m *protocol.CommandResults) {
	s, ok := g.sessions.Get(m.SessionID)
	if !ok {
		g.logger.Debug("COMMAND_RESULTS for unknown session",
			zap.String("client_id", client.ID),
			zap.String("session_id", m.SessionID))
		return
	}
	if !s.Dispatcher.SetResult(m.PrevResponseID, m.Payload) {
		g.logger.Debug("Discarding unmatched COMMAND_RESULTS",
			zap.String("session_id", m.SessionID),
			zap.String("prev_response_id", m.PrevResponseID))
	}
}

// cleanup tears one connection down: drained sessions are cancelled with the
// reason matching the role the client played in them, the registration is
// removed, and the transport closed. A connection that lost its registration
// to a re-registering peer must not touch its replacement's sessions.
func (g *Gateway) cleanup(client *registry.Client, conn wire) {
	owned, drained := g.registry.Drop(client)
	if owned {
		g.cancelDrained(drained)
	}

	g.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("client_type", string(client.Type)),
		zap.Bool("evicted", !owned))
	g.publishClientEvent(events.ClientDisconnected, client)
	_ = conn.Close()
}

func (g *Gateway) cancelDrained(d registry.DrainedSessions) {
	for _, id := range d.Orchestrated {
		g.sessions.Cancel(id, session.CancelOrchestratorDisconnected)
	}
	for _, id := range d.Executing {
		g.sessions.Cancel(id, session.CancelDeviceDisconnected)
	}
}

func (g *Gateway) publishClientEvent(eventType string, c *registry.Client) {
	if g.bus == nil {
		return
	}
	event := bus.NewEvent(eventType, "gateway", map[string]any{
		"client_id":   c.ID,
		"client_type": string(c.Type),
		"platform":    c.Platform,
	})
	subject := events.BuildClientSubject(eventType, c.ID)
	if err := g.bus.Publish(context.Background(), subject, event); err != nil {
		g.logger.Warn("Failed to publish client event",
			zap.String("subject", subject), zap.Error(err))
	}
}

func (g *Gateway) publishTaskEvent(sessionID, taskName, originID, targetID string) {
	if g.bus == nil {
		return
	}
	event := bus.NewEvent(events.TaskDispatched, "gateway", map[string]any{
		"session_id": sessionID,
		"task_name":  taskName,
		"origin_id":  originID,
		"target_id":  targetID,
	})
	subject := events.BuildTaskSubject(events.TaskDispatched, sessionID)
	if err := g.bus.Publish(context.Background(), subject, event); err != nil {
		g.logger.Warn("Failed to publish task event",
			zap.String("subject", subject), zap.Error(err))
	}
}
