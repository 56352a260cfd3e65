package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/circuitbreaker"
	"github.com/netbase/engine/pkg/models"
)

// DockerBackend is a stub pending the container runtime integration. It
// simulates a container run and reports success.
type DockerBackend struct {
	simulatedDelay time.Duration
	logger         zerolog.Logger
}

// NewDockerBackend creates the stub Docker backend.
func NewDockerBackend(logger zerolog.Logger) *DockerBackend {
	return &DockerBackend{
		simulatedDelay: 5 * time.Second,
		logger:         logger.With().Str("backend", "docker").Logger(),
	}
}

// Type returns the agent type this backend handles.
func (b *DockerBackend) Type() models.AgentType {
	return models.AgentDocker
}

// Execute simulates running the task's image.
func (b *DockerBackend) Execute(ctx context.Context, groupID string, task models.GroupTask) Result {
	b.logger.Info().
		Str("group_id", groupID).
		Int64("task_instance_id", task.TaskInstanceID).
		Str("image", task.SourceReference).
		Msg("simulating container run")

	select {
	case <-time.After(b.simulatedDelay):
	case <-ctx.Done():
		return Result{Status: StatusFailed, Error: fmt.Sprintf("container run cancelled: %v", ctx.Err())}
	}

	return Result{
		Status: StatusSuccess,
		Output: map[string]interface{}{
			"container_id": fmt.Sprintf("sim_%d", task.TaskInstanceID),
			"logs":         "Container ran successfully.",
		},
	}
}

// PythonFunctionBackend is a stub pending the hosted-function HTTP client.
// It echoes the task's message parameter. Calls go through a circuit breaker
// so a dead function endpoint fails tasks fast once the real client lands.
type PythonFunctionBackend struct {
	simulatedDelay time.Duration
	breaker        *circuitbreaker.Breaker
	logger         zerolog.Logger
}

// NewPythonFunctionBackend creates the stub hosted-function backend.
func NewPythonFunctionBackend(logger zerolog.Logger) *PythonFunctionBackend {
	logger = logger.With().Str("backend", "python_function").Logger()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("function endpoint circuit state changed")
		},
	})
	return &PythonFunctionBackend{
		simulatedDelay: 1 * time.Second,
		breaker:        breaker,
		logger:         logger,
	}
}

// Type returns the agent type this backend handles.
func (b *PythonFunctionBackend) Type() models.AgentType {
	return models.AgentPythonFunction
}

// Execute simulates the function call.
func (b *PythonFunctionBackend) Execute(ctx context.Context, groupID string, task models.GroupTask) Result {
	b.logger.Info().
		Str("group_id", groupID).
		Int64("task_instance_id", task.TaskInstanceID).
		Msg("simulating function call")

	var output map[string]interface{}
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		select {
		case <-time.After(b.simulatedDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		message := "default message"
		if m, ok := task.Params.InputParams["message"].(string); ok {
			message = m
		}
		output = map[string]interface{}{
			"response": fmt.Sprintf("Processed: %s", message),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return Result{Status: StatusFailed, Error: "function endpoint unavailable"}
		}
		return Result{Status: StatusFailed, Error: fmt.Sprintf("function call failed: %v", err)}
	}

	return Result{Status: StatusSuccess, Output: output}
}
