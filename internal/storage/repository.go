package storage

import (
	"context"

	"github.com/netbase/engine/pkg/models"
)

// AgentRepository defines the interface for agent persistence. Agents are
// read-only to the scheduler and executor.
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id int64) (*models.Agent, error)
	GetByName(ctx context.Context, name string) (*models.Agent, error)
	List(ctx context.Context, limit, offset int) ([]*models.Agent, error)
}

// TemplateRepository defines the interface for DAG template persistence.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.DAGTemplate) error
	Get(ctx context.Context, id int64) (*models.DAGTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*models.DAGTemplate, error)
	ListScheduled(ctx context.Context) ([]*models.DAGTemplate, error)
}

// WorkflowRepository defines the interface for workflow instance persistence.
// Status-mutating methods are compare-and-swap: they fail with ErrStaleState
// when the row is no longer in the expected status.
type WorkflowRepository interface {
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	Get(ctx context.Context, id int64) (*models.WorkflowInstance, error)
	List(ctx context.Context, limit, offset int) ([]*models.WorkflowInstance, error)
	MarkRunning(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// TaskRepository defines the interface for task instance persistence.
type TaskRepository interface {
	// Create inserts a task instance; returns ErrConflict when a task for
	// the same (workflow_instance_id, node_id) already exists.
	Create(ctx context.Context, task *models.TaskInstance) error
	Get(ctx context.Context, id int64) (*models.TaskInstance, error)
	GetByNode(ctx context.Context, workflowInstanceID int64, nodeID string) (*models.TaskInstance, error)
	ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*models.TaskInstance, error)

	CountCompleted(ctx context.Context, workflowInstanceID int64) (int64, error)
	CountCompletedByNodes(ctx context.Context, workflowInstanceID int64, nodeIDs []string) (int64, error)

	BulkMarkQueued(ctx context.Context, ids []int64) error
	BulkMarkRunning(ctx context.Context, ids []int64) error
	// BulkFail force-fails every listed task that is not already terminal,
	// recording the shared error message in logs.
	BulkFail(ctx context.Context, ids []int64, errMsg string) error
	// FinishBatch records terminal statuses, outputs, logs and completed_at
	// for a whole task group in one transaction.
	FinishBatch(ctx context.Context, outcomes []TaskOutcome) error
}

// TaskOutcome is one task's terminal result as persisted by FinishBatch.
type TaskOutcome struct {
	ID      int64
	Status  models.TaskStatus
	Outputs map[string]interface{}
	Logs    string
}
