package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agenthub/agenthub/pkg/protocol"
)

// Runner drives the agent loop for one session. Implementations decide
// which commands to issue; their single capability for talking to the
// device is the dispatcher, and they finish with a result payload.
type Runner interface {
	Run(ctx context.Context, s *Session) (map[string]any, error)
}

// RunnerFactory builds a Runner per session.
type RunnerFactory func() Runner

// DefaultRunners maps the supported platforms to their session runners.
// All builtin platforms share the assignment/await exchange; the map is
// the seam where platform-specific agent loops plug in.
func DefaultRunners() map[string]RunnerFactory {
	exchange := func() Runner { return &deviceExchangeRunner{} }
	return map[string]RunnerFactory{
		"linux":   exchange,
		"windows": exchange,
		"darwin":  exchange,
	}
}

// deviceExchangeRunner hands the task to the device with TASK_ASSIGNMENT
// and waits for the correlated COMMAND_RESULTS, whose payload becomes the
// session result.
type deviceExchangeRunner struct{}

func (r *deviceExchangeRunner) Run(ctx context.Context, s *Session) (map[string]any, error) {
	responseID := uuid.New().String()
	taskExec := protocol.NewTaskExecution(s.Transport)

	result, err := s.Dispatcher.Await(ctx, responseID, func() error {
		return taskExec.Assign(s.ID, responseID, s.TaskName, s.Request)
	})
	if err != nil {
		return nil, fmt.Errorf("task assignment exchange failed: %w", err)
	}
	return result, nil
}
