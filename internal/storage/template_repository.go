package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/netbase/engine/pkg/models"
	"gorm.io/gorm"
)

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new DAG template repository
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) Create(ctx context.Context, tmpl *models.DAGTemplate) error {
	model := FromTemplate(tmpl)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	tmpl.ID = model.ID
	tmpl.CreatedAt = model.CreatedAt
	tmpl.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id int64) (*models.DAGTemplate, error) {
	var model DAGTemplateModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return model.ToTemplate(), nil
}

func (r *templateRepository) List(ctx context.Context, limit, offset int) ([]*models.DAGTemplate, error) {
	query := r.db.WithContext(ctx).Model(&DAGTemplateModel{}).Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var templateModels []DAGTemplateModel
	if err := query.Find(&templateModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	templates := make([]*models.DAGTemplate, len(templateModels))
	for i := range templateModels {
		templates[i] = templateModels[i].ToTemplate()
	}
	return templates, nil
}

func (r *templateRepository) ListScheduled(ctx context.Context) ([]*models.DAGTemplate, error) {
	var templateModels []DAGTemplateModel
	if err := r.db.WithContext(ctx).
		Where("schedule <> ''").
		Order("id").
		Find(&templateModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list scheduled templates: %w", err)
	}

	templates := make([]*models.DAGTemplate, len(templateModels))
	for i := range templateModels {
		templates[i] = templateModels[i].ToTemplate()
	}
	return templates, nil
}
