package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netbase/engine/pkg/models"
	"gorm.io/gorm"
)

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task instance repository
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *models.TaskInstance) error {
	model := FromTaskInstance(task)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("task for workflow %d node %q: %w",
				task.WorkflowInstanceID, task.NodeID, ErrConflict)
		}
		return fmt.Errorf("failed to create task instance: %w", err)
	}

	task.ID = model.ID
	task.Status = models.TaskStatus(model.Status)
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id int64) (*models.TaskInstance, error) {
	var model TaskInstanceModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task instance %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task instance: %w", err)
	}
	return model.ToTaskInstance(), nil
}

func (r *taskRepository) GetByNode(ctx context.Context, workflowInstanceID int64, nodeID string) (*models.TaskInstance, error) {
	var model TaskInstanceModel
	if err := r.db.WithContext(ctx).
		Where("workflow_instance_id = ? AND node_id = ?", workflowInstanceID, nodeID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task for workflow %d node %q: %w", workflowInstanceID, nodeID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task instance: %w", err)
	}
	return model.ToTaskInstance(), nil
}

func (r *taskRepository) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*models.TaskInstance, error) {
	var taskModels []TaskInstanceModel
	if err := r.db.WithContext(ctx).
		Where("workflow_instance_id = ?", workflowInstanceID).
		Order("id").
		Find(&taskModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list task instances: %w", err)
	}

	tasks := make([]*models.TaskInstance, len(taskModels))
	for i := range taskModels {
		tasks[i] = taskModels[i].ToTaskInstance()
	}
	return tasks, nil
}

func (r *taskRepository) CountCompleted(ctx context.Context, workflowInstanceID int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&TaskInstanceModel{}).
		Where("workflow_instance_id = ? AND status = ?", workflowInstanceID, string(models.TaskCompleted)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count completed tasks: %w", err)
	}
	return count, nil
}

func (r *taskRepository) CountCompletedByNodes(ctx context.Context, workflowInstanceID int64, nodeIDs []string) (int64, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&TaskInstanceModel{}).
		Where("workflow_instance_id = ? AND node_id IN ? AND status = ?",
			workflowInstanceID, nodeIDs, string(models.TaskCompleted)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count completed upstream tasks: %w", err)
	}
	return count, nil
}

func (r *taskRepository) BulkMarkQueued(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).
		Model(&TaskInstanceModel{}).
		Where("id IN ? AND status = ?", ids, string(models.TaskPending)).
		Update("status", string(models.TaskQueued)).Error; err != nil {
		return fmt.Errorf("failed to mark tasks queued: %w", err)
	}
	return nil
}

func (r *taskRepository) BulkMarkRunning(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).
		Model(&TaskInstanceModel{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     string(models.TaskRunning),
			"started_at": &now,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark tasks running: %w", err)
	}
	return nil
}

func (r *taskRepository) BulkFail(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	terminal := []string{string(models.TaskCompleted), string(models.TaskFailed)}
	if err := r.db.WithContext(ctx).
		Model(&TaskInstanceModel{}).
		Where("id IN ? AND status NOT IN ?", ids, terminal).
		Updates(map[string]interface{}{
			"status":       string(models.TaskFailed),
			"logs":         errMsg,
			"completed_at": &now,
		}).Error; err != nil {
		return fmt.Errorf("failed to bulk-fail tasks: %w", err)
	}
	return nil
}

func (r *taskRepository) FinishBatch(ctx context.Context, outcomes []TaskOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if !o.Status.IsTerminal() {
			return fmt.Errorf("finish requires a terminal status, got %s for task %d", o.Status, o.ID)
		}
	}

	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range outcomes {
			if err := tx.Model(&TaskInstanceModel{}).
				Where("id = ?", o.ID).
				Updates(map[string]interface{}{
					"status":       string(o.Status),
					"outputs":      JSONB(o.Outputs),
					"logs":         o.Logs,
					"completed_at": &now,
				}).Error; err != nil {
				return fmt.Errorf("failed to finish task %d: %w", o.ID, err)
			}
		}
		return nil
	})
}
