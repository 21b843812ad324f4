package session

import (
	"context"
	"sync"
	"time"

	"github.com/agenthub/agenthub/pkg/protocol"
)

// State is the lifecycle state of a session. Terminal states admit no
// further transitions.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CancelReason says why a session was cancelled; it selects the
// result-delivery policy on the way out.
type CancelReason string

const (
	// CancelDeviceDisconnected: the executing device dropped. The
	// originator is told via a failure TASK_END.
	CancelDeviceDisconnected CancelReason = "device_disconnected"

	// CancelOrchestratorDisconnected: the originating constellation
	// dropped. Nobody is left to notify; the result callback is skipped.
	CancelOrchestratorDisconnected CancelReason = "orchestrator_disconnected"

	// CancelManual: an operator cancelled the session.
	CancelManual CancelReason = "manual_cancel"

	// CancelTimeout: the configured session deadline expired.
	CancelTimeout CancelReason = "timeout"

	// CancelDeviceReported: the device itself sent TASK_END. Treated as
	// an advisory termination; the device's payload is forwarded.
	CancelDeviceReported CancelReason = "device_reported"
)

// deviceReport carries a device-originated TASK_END through the cancel path.
type deviceReport struct {
	status protocol.TaskStatus
	result map[string]any
}

// Session is the server-side execution context for one task. Its state is
// owned by the background activity; the cancel path only signals.
type Session struct {
	ID       string
	TaskName string
	Request  string
	Platform string

	// Transport is the connection the session executes on (the device side).
	Transport protocol.Sender

	Dispatcher *CommandDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	reason    CancelReason
	report    *deviceReport
	startedAt time.Time
}

func newSession(parent context.Context, id, taskName, request, platform string, transport protocol.Sender, timeout time.Duration) *Session {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &Session{
		ID:         id,
		TaskName:   taskName,
		Request:    request,
		Platform:   platform,
		Transport:  transport,
		Dispatcher: NewCommandDispatcher(id, transport),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateCreated,
	}
}

// Context is the activity context; it ends when the session is cancelled
// or times out.
func (s *Session) Context() context.Context {
	return s.ctx
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the recorded cancel reason, if any.
func (s *Session) Reason() CancelReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// setState transitions the lifecycle state. Transitions out of a terminal
// state are ignored.
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

// markCancelled records the first cancel reason and signals the activity.
func (s *Session) markCancelled(reason CancelReason) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()

	s.Dispatcher.Cancel()
	s.cancel()
}

// setDeviceReport stores a device-originated TASK_END payload for the
// terminal path to forward.
func (s *Session) setDeviceReport(status protocol.TaskStatus, result map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		s.report = &deviceReport{status: status, result: result}
	}
}

func (s *Session) deviceReportValue() *deviceReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// start moves the session from created to running. It returns false when
// the session has already been scheduled, so a task can only be executed
// once per session id.
func (s *Session) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return false
	}
	s.state = StateRunning
	s.startedAt = time.Now()
	return true
}

func (s *Session) runtime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
