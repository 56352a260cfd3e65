package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netbase/engine/internal/state"
	"github.com/netbase/engine/pkg/models"
	"gorm.io/gorm"
)

type workflowRepository struct {
	db      *gorm.DB
	machine *state.WorkflowMachine
}

// NewWorkflowRepository creates a new workflow instance repository
func NewWorkflowRepository(db *gorm.DB, machine *state.WorkflowMachine) WorkflowRepository {
	return &workflowRepository{db: db, machine: machine}
}

func (r *workflowRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	model := FromWorkflowInstance(instance)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	instance.ID = model.ID
	instance.Status = models.WorkflowStatus(model.Status)
	instance.CreatedAt = model.CreatedAt
	return nil
}

func (r *workflowRepository) Get(ctx context.Context, id int64) (*models.WorkflowInstance, error) {
	var model WorkflowInstanceModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workflow instance %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	return model.ToWorkflowInstance(), nil
}

func (r *workflowRepository) List(ctx context.Context, limit, offset int) ([]*models.WorkflowInstance, error) {
	query := r.db.WithContext(ctx).Model(&WorkflowInstanceModel{}).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var instanceModels []WorkflowInstanceModel
	if err := query.Find(&instanceModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}

	instances := make([]*models.WorkflowInstance, len(instanceModels))
	for i := range instanceModels {
		instances[i] = instanceModels[i].ToWorkflowInstance()
	}
	return instances, nil
}

func (r *workflowRepository) MarkRunning(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.compareAndSwap(ctx, id,
		[]models.WorkflowStatus{models.WorkflowQueued},
		models.WorkflowRunning,
		map[string]interface{}{"started_at": &now},
	)
}

func (r *workflowRepository) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.compareAndSwap(ctx, id,
		[]models.WorkflowStatus{models.WorkflowRunning},
		models.WorkflowCompleted,
		map[string]interface{}{"completed_at": &now},
	)
}

func (r *workflowRepository) MarkFailed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	return r.compareAndSwap(ctx, id,
		[]models.WorkflowStatus{models.WorkflowQueued, models.WorkflowRunning},
		models.WorkflowFailed,
		map[string]interface{}{"completed_at": &now},
	)
}

// compareAndSwap transitions the instance status only when the row is still
// in one of the expected states, so concurrent handlers cannot resurrect a
// terminal workflow.
func (r *workflowRepository) compareAndSwap(
	ctx context.Context,
	id int64,
	from []models.WorkflowStatus,
	to models.WorkflowStatus,
	extra map[string]interface{},
) error {
	for _, f := range from {
		if err := r.machine.ValidateTransition(f, to); err != nil {
			return err
		}
	}

	updates := map[string]interface{}{"status": string(to)}
	for k, v := range extra {
		updates[k] = v
	}

	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}

	res := r.db.WithContext(ctx).
		Model(&WorkflowInstanceModel{}).
		Where("id = ? AND status IN ?", id, fromStrs).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update workflow instance %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("workflow instance %d not in %v: %w", id, from, ErrStaleState)
	}
	return nil
}
