package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/wasm"
	"github.com/netbase/engine/pkg/models"
)

// WASMBackend runs tasks through the process-wide wasm sandbox. Each task
// gets a private workspace directory under
// <root>/wasm_workspaces/<group_id>/<task_instance_id>, removed again on
// every exit path.
type WASMBackend struct {
	sandbox       *wasm.Sandbox
	workspaceRoot string
	logger        zerolog.Logger
}

// NewWASMBackend creates a backend on top of an initialized sandbox.
// workspaceRoot is the shared filesystem root the workers mount.
func NewWASMBackend(sandbox *wasm.Sandbox, workspaceRoot string, logger zerolog.Logger) *WASMBackend {
	return &WASMBackend{
		sandbox:       sandbox,
		workspaceRoot: workspaceRoot,
		logger:        logger.With().Str("backend", "wasm").Logger(),
	}
}

// Type returns the agent type this backend handles.
func (b *WASMBackend) Type() models.AgentType {
	return models.AgentWASM
}

// Execute runs the task's module inside the sandbox.
func (b *WASMBackend) Execute(ctx context.Context, groupID string, task models.GroupTask) Result {
	logger := b.logger.With().
		Str("group_id", groupID).
		Int64("task_instance_id", task.TaskInstanceID).
		Logger()

	workspaceDir := filepath.Join(b.workspaceRoot, "wasm_workspaces",
		groupID, fmt.Sprintf("%d", task.TaskInstanceID))
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return Result{Status: StatusFailed, Error: fmt.Sprintf("failed to create workspace: %v", err)}
	}
	defer func() {
		if err := os.RemoveAll(workspaceDir); err != nil {
			logger.Error().Err(err).Str("dir", workspaceDir).Msg("failed to clean up workspace")
		}
	}()

	logger.Info().Str("module", task.SourceReference).Msg("starting wasm execution")

	res := b.sandbox.Execute(ctx, groupID, task.TaskInstanceID,
		task.SourceReference, task.Params.InputParams, workspaceDir)

	logger.Info().Str("status", string(res.Status)).Msg("wasm execution finished")
	return Result{Status: Status(res.Status), Output: res.Output, Error: res.Error}
}
