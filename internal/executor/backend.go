package executor

import (
	"context"

	"github.com/netbase/engine/pkg/models"
)

// Status classifies a single task execution outcome.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result is the outcome a backend reports for one task. Backends never
// return Go errors for task-level failures; the error text lands in Error
// and is persisted into the task's logs.
type Result struct {
	Status Status
	Output map[string]interface{}
	Error  string
}

// Backend executes tasks of one agent type.
type Backend interface {
	// Execute runs a single task and returns its result.
	Execute(ctx context.Context, groupID string, task models.GroupTask) Result

	// Type returns the agent type this backend handles.
	Type() models.AgentType
}
