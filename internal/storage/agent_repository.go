package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/netbase/engine/pkg/models"
	"gorm.io/gorm"
)

type agentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepository{db: db}
}

func (r *agentRepository) Create(ctx context.Context, agent *models.Agent) error {
	model, err := FromAgent(agent)
	if err != nil {
		return fmt.Errorf("failed to convert agent to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("agent %q: %w", agent.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}

	agent.ID = model.ID
	agent.CreatedAt = model.CreatedAt
	agent.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *agentRepository) Get(ctx context.Context, id int64) (*models.Agent, error) {
	var model AgentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return model.ToAgent(), nil
}

func (r *agentRepository) GetByName(ctx context.Context, name string) (*models.Agent, error) {
	var model AgentModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return model.ToAgent(), nil
}

func (r *agentRepository) List(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	query := r.db.WithContext(ctx).Model(&AgentModel{}).Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var agentModels []AgentModel
	if err := query.Find(&agentModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]*models.Agent, len(agentModels))
	for i := range agentModels {
		agents[i] = agentModels[i].ToAgent()
	}
	return agents, nil
}
