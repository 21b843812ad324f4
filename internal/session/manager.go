package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/events"
	"github.com/agenthub/agenthub/internal/events/bus"
	"github.com/agenthub/agenthub/pkg/protocol"
)

var (
	// ErrUnknownPlatform rejects execution when no runner is registered
	// for the session's platform.
	ErrUnknownPlatform = errors.New("session: no runner for platform")

	// ErrSessionActive rejects a second ExecuteAsync for the same session id.
	ErrSessionActive = errors.New("session: already scheduled")
)

// ResultFunc receives the synthesized TASK_END for a finished session.
// It is invoked at most once per session.
type ResultFunc func(sessionID string, msg protocol.Message)

// Result is a finished session's recorded outcome.
type Result struct {
	SessionID  string
	TaskName   string
	Status     protocol.TaskStatus
	Payload    map[string]any
	RecordedAt time.Time
}

// SessionIndex releases a terminal session from ownership indexes.
type SessionIndex interface {
	RemoveSession(sessionID string)
}

// Manager owns session lifecycles: creation, background execution,
// cooperative cancellation, and the result cache.
type Manager struct {
	runners map[string]RunnerFactory
	index   SessionIndex
	bus     bus.EventBus
	timeout time.Duration
	logger  *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	results  map[string]*Result
	byTask   map[string]string // task name -> session id of the recorded result
}

// NewManager creates a session manager. index and eventBus may be nil in
// tests; sessionTimeout of zero disables the per-session deadline.
func NewManager(runners map[string]RunnerFactory, index SessionIndex, eventBus bus.EventBus, sessionTimeout time.Duration, log *logger.Logger) *Manager {
	if runners == nil {
		runners = DefaultRunners()
	}
	return &Manager{
		runners:  runners,
		index:    index,
		bus:      eventBus,
		timeout:  sessionTimeout,
		logger:   log,
		sessions: make(map[string]*Session),
		results:  make(map[string]*Result),
		byTask:   make(map[string]string),
	}
}

// CreateOrGet returns the live session registered under sessionID, creating
// it when absent. Idempotent on sessionID.
func (m *Manager) CreateOrGet(sessionID, taskName, request, platform string, transport protocol.Sender) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}

	s := newSession(context.Background(), sessionID, taskName, request, platform, transport, m.timeout)
	m.sessions[sessionID] = s
	return s
}

// Get returns the live session registered under sessionID.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// ExecuteAsync schedules the session's agent loop as a background activity
// and returns immediately. onResult fires once with the session's TASK_END,
// subject to the cancel-reason policy.
func (m *Manager) ExecuteAsync(sessionID, taskName, request, platform string, transport protocol.Sender, onResult ResultFunc) error {
	factory, ok := m.runners[platform]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	s := m.CreateOrGet(sessionID, taskName, request, platform, transport)
	if !s.start() {
		return fmt.Errorf("%w: %s", ErrSessionActive, sessionID)
	}

	m.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("task_name", taskName),
		zap.String("platform", platform))
	m.publish(events.SessionStarted, s, map[string]any{
		"session_id": sessionID,
		"task_name":  taskName,
		"platform":   platform,
	})

	go m.run(s, factory(), onResult)
	return nil
}

// Cancel signals the session's activity to stop with the given reason.
// Unknown or already-terminal session ids are a no-op.
func (m *Manager) Cancel(sessionID string, reason CancelReason) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	m.logger.Info("Cancelling session",
		zap.String("session_id", sessionID),
		zap.String("reason", string(reason)))
	s.markCancelled(reason)
}

// DeviceReportedEnd handles a TASK_END sent by the executing device itself:
// an advisory termination. The session is cancelled with reason
// CancelDeviceReported and the device's payload is forwarded through
// onResult. Reports for unknown sessions return false.
func (m *Manager) DeviceReportedEnd(sessionID string, status protocol.TaskStatus, result map[string]any) bool {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	s.setDeviceReport(status, result)
	s.markCancelled(CancelDeviceReported)
	return true
}

// GetResult returns the recorded outcome for a session id.
func (m *Manager) GetResult(sessionID string) (*Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[sessionID]
	return r, ok
}

// GetResultByTask returns the recorded outcome for a task name.
func (m *Manager) GetResultByTask(taskName string) (*Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessionID, ok := m.byTask[taskName]
	if !ok {
		return nil, false
	}
	r, ok := m.results[sessionID]
	return r, ok
}

// Remove drops the cached result for a session id. A still-running session
// is cancelled manually and will record its cancellation outcome.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	if r, ok := m.results[sessionID]; ok {
		if r.TaskName != "" && m.byTask[r.TaskName] == sessionID {
			delete(m.byTask, r.TaskName)
		}
		delete(m.results, sessionID)
	}
	m.mu.Unlock()

	if s != nil {
		s.markCancelled(CancelManual)
	}
}

// Shutdown cancels every live session. Used on server stop so activities
// unwind before transports are torn down.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		s.markCancelled(CancelManual)
	}
}

// run executes the agent loop and settles the session.
func (m *Manager) run(s *Session, runner Runner, onResult ResultFunc) {
	payload, err := runner.Run(s.ctx, s)
	m.finish(s, payload, err, onResult)
}

// finish translates the activity outcome into a terminal state, records the
// result, and dispatches the TASK_END per the cancel-reason policy.
func (m *Manager) finish(s *Session, payload map[string]any, runErr error, onResult ResultFunc) {
	reason := s.Reason()
	if reason == "" && errors.Is(runErr, context.DeadlineExceeded) {
		reason = CancelTimeout
	}

	var (
		state        State
		status       protocol.TaskStatus
		result       map[string]any
		taskEnd      *protocol.TaskEnd
		skipCallback bool
	)

	switch {
	case runErr == nil:
		state, status = StateCompleted, protocol.TaskStatusCompleted
		result = payload
		taskEnd = protocol.NewTaskEnd(s.ID, protocol.TaskStatusCompleted, result)

	case isCancellation(runErr):
		switch reason {
		case CancelDeviceDisconnected:
			state, status = StateFailed, protocol.TaskStatusFailed
			result = map[string]any{"reason": string(CancelDeviceDisconnected)}
			taskEnd = protocol.NewTaskEnd(s.ID, protocol.TaskStatusFailed, result)

		case CancelOrchestratorDisconnected:
			state, status = StateCancelled, protocol.TaskStatusCancelled
			result = map[string]any{"reason": string(CancelOrchestratorDisconnected)}
			skipCallback = true

		case CancelDeviceReported:
			state = StateCancelled
			if rep := s.deviceReportValue(); rep != nil {
				status, result = rep.status, rep.result
			} else {
				status = protocol.TaskStatusCancelled
				result = map[string]any{"reason": string(CancelDeviceReported)}
			}
			taskEnd = protocol.NewTaskEnd(s.ID, status, result)

		default:
			// ManualCancel, Timeout, or an external context cancel:
			// notify the originator with a failure
			if reason == "" {
				reason = CancelManual
			}
			state, status = StateCancelled, protocol.TaskStatusCancelled
			result = map[string]any{"reason": string(reason)}
			taskEnd = protocol.NewTaskEnd(s.ID, protocol.TaskStatusFailed, result)
		}

	default:
		state, status = StateFailed, protocol.TaskStatusFailed
		result = map[string]any{"error": runErr.Error()}
		taskEnd = protocol.NewTaskEnd(s.ID, protocol.TaskStatusFailed, result)
	}

	s.setState(state)
	duration := s.runtime()

	m.mu.Lock()
	m.results[s.ID] = &Result{
		SessionID:  s.ID,
		TaskName:   s.TaskName,
		Status:     status,
		Payload:    result,
		RecordedAt: time.Now(),
	}
	if s.TaskName != "" {
		m.byTask[s.TaskName] = s.ID
	}
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if m.index != nil {
		m.index.RemoveSession(s.ID)
	}

	m.logger.Info("Session finished",
		zap.String("session_id", s.ID),
		zap.String("state", string(state)),
		zap.String("reason", string(reason)),
		zap.Duration("duration", duration))
	m.publish(terminalEventType(state), s, map[string]any{
		"session_id":       s.ID,
		"task_name":        s.TaskName,
		"status":           string(status),
		"reason":           string(reason),
		"duration_seconds": duration.Seconds(),
	})

	if skipCallback || onResult == nil {
		return
	}
	onResult(s.ID, taskEnd)
}

// isCancellation classifies activity errors that stem from the cancel path
// rather than from the agent loop itself.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func terminalEventType(state State) string {
	switch state {
	case StateFailed:
		return events.SessionFailed
	case StateCancelled:
		return events.SessionCancelled
	default:
		return events.SessionCompleted
	}
}

func (m *Manager) publish(eventType string, s *Session, data map[string]any) {
	if m.bus == nil {
		return
	}
	subject := events.BuildSessionSubject(eventType, s.ID)
	event := bus.NewEvent(eventType, "session-manager", data)
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.logger.Warn("Failed to publish session event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
