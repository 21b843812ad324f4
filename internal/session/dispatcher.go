// Package session runs task sessions and correlates command round-trips.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/agenthub/internal/observability"
	"github.com/agenthub/agenthub/pkg/protocol"
)

// ErrCancelled wakes an AwaitResult suspension when the session is
// cancelled. The agent loop translates it into a terminal outcome
// instead of propagating it as a generic failure.
var ErrCancelled = errors.New("session: cancelled")

// pendingCommand tracks one outstanding correlation id.
type pendingCommand struct {
	resultCh chan map[string]any
	sentAt   time.Time
}

// CommandDispatcher bridges a session's agent loop, which sends commands
// to the executing device, and the connection handler, which delivers the
// matching COMMAND_RESULTS. Results are routed by response id.
type CommandDispatcher struct {
	sessionID string
	transport protocol.Sender

	mu      sync.RWMutex
	pending map[string]*pendingCommand

	cancelled  chan struct{}
	cancelOnce sync.Once
}

// NewCommandDispatcher creates a dispatcher sending on the device transport.
func NewCommandDispatcher(sessionID string, transport protocol.Sender) *CommandDispatcher {
	return &CommandDispatcher{
		sessionID: sessionID,
		transport: transport,
		pending:   make(map[string]*pendingCommand),
		cancelled: make(chan struct{}),
	}
}

// AwaitCommand issues a COMMAND with a fresh response id and suspends until
// the correlated COMMAND_RESULTS arrives, the session is cancelled, or ctx
// expires.
func (d *CommandDispatcher) AwaitCommand(ctx context.Context, payload map[string]any) (map[string]any, error) {
	responseID := uuid.New().String()
	taskExec := protocol.NewTaskExecution(d.transport)
	return d.Await(ctx, responseID, func() error {
		return taskExec.Command(d.sessionID, responseID, payload)
	})
}

// Await registers a waiter for responseID and then runs send. Registration
// happens strictly before the message leaves, so a result that races the
// send still finds its waiter.
func (d *CommandDispatcher) Await(ctx context.Context, responseID string, send func() error) (map[string]any, error) {
	pc := &pendingCommand{
		resultCh: make(chan map[string]any, 1),
		sentAt:   time.Now(),
	}

	d.mu.Lock()
	d.pending[responseID] = pc
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, responseID)
		d.mu.Unlock()
	}()

	select {
	case <-d.cancelled:
		return nil, ErrCancelled
	default:
	}

	if err := send(); err != nil {
		return nil, fmt.Errorf("failed to send command %s: %w", responseID, err)
	}

	select {
	case result := <-pc.resultCh:
		observability.RecordCommandRoundtrip(time.Since(pc.sentAt).Seconds())
		return result, nil
	case <-d.cancelled:
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetResult delivers a device result to the waiter registered under
// responseID. At most one delivery per id is accepted; duplicates and
// results for unknown ids are discarded and reported false.
func (d *CommandDispatcher) SetResult(responseID string, payload map[string]any) bool {
	d.mu.RLock()
	pc, ok := d.pending[responseID]
	d.mu.RUnlock()

	if !ok {
		return false
	}

	// Non-blocking send (channel has buffer of 1)
	select {
	case pc.resultCh <- payload:
		return true
	default:
		return false
	}
}

// Cancel wakes every outstanding and future Await with ErrCancelled.
func (d *CommandDispatcher) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.cancelled)
	})
}

// Pending reports the number of outstanding correlation ids.
func (d *CommandDispatcher) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}
