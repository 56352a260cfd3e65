package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netbase/engine/pkg/models"
)

// JSONB is a custom type for JSONB columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, j)
}

// DAGDefColumn stores a DAG definition as a JSONB column.
type DAGDefColumn models.DAGDefinition

// Value implements the driver.Valuer interface
func (d DAGDefColumn) Value() (driver.Value, error) {
	return json.Marshal(models.DAGDefinition(d))
}

// Scan implements the sql.Scanner interface
func (d *DAGDefColumn) Scan(value interface{}) error {
	if value == nil {
		*d = DAGDefColumn{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, (*models.DAGDefinition)(d))
}

// AgentModel represents the database model for an agent
type AgentModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"type:varchar(255);unique;not null;index:idx_agents_name"`
	Description     string `gorm:"type:text"`
	AgentType       string `gorm:"type:varchar(50);not null"`
	SourceReference string `gorm:"type:varchar(1024);not null"`
	InputSchema     JSONB  `gorm:"type:jsonb"`
	OutputSchema    JSONB  `gorm:"type:jsonb"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName specifies the table name for AgentModel
func (AgentModel) TableName() string {
	return "agents"
}

// DAGTemplateModel represents the database model for a DAG template
type DAGTemplateModel struct {
	ID            int64        `gorm:"primaryKey;autoIncrement"`
	Name          string       `gorm:"type:varchar(255);not null;index:idx_dag_templates_name"`
	Description   string       `gorm:"type:text"`
	Schedule      string       `gorm:"type:varchar(100)"`
	DAGDefinition DAGDefColumn `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName specifies the table name for DAGTemplateModel
func (DAGTemplateModel) TableName() string {
	return "dag_templates"
}

// WorkflowInstanceModel represents the database model for a workflow instance
type WorkflowInstanceModel struct {
	ID            int64        `gorm:"primaryKey;autoIncrement"`
	TemplateID    int64        `gorm:"not null;index:idx_workflow_instances_template_id"`
	DAGDefinition DAGDefColumn `gorm:"type:jsonb;not null"`
	Status        string       `gorm:"type:varchar(50);not null;default:'QUEUED';index:idx_workflow_instances_status"`
	Priority      int          `gorm:"not null;default:0"`
	Inputs        JSONB        `gorm:"type:jsonb"`
	Outputs       JSONB        `gorm:"type:jsonb"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time `gorm:"index:idx_workflow_instances_created_at"`
	UpdatedAt     time.Time
}

// TableName specifies the table name for WorkflowInstanceModel
func (WorkflowInstanceModel) TableName() string {
	return "workflow_instances"
}

// TaskInstanceModel represents the database model for a task instance.
// The composite unique index on (workflow_instance_id, node_id) guards
// against double-materialization when sibling upstream completions race.
type TaskInstanceModel struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	WorkflowInstanceID int64  `gorm:"not null;uniqueIndex:uq_task_instances_workflow_node;index:idx_task_instances_workflow_id"`
	NodeID             string `gorm:"type:varchar(255);not null;uniqueIndex:uq_task_instances_workflow_node"`
	AgentID            int64  `gorm:"not null"`
	Status             string `gorm:"type:varchar(50);not null;default:'PENDING';index:idx_task_instances_status"`
	InputParams        JSONB  `gorm:"type:jsonb"`
	Outputs            JSONB  `gorm:"type:jsonb"`
	Logs               string `gorm:"type:text"`
	RetryCount         int    `gorm:"not null;default:0"`
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName specifies the table name for TaskInstanceModel
func (TaskInstanceModel) TableName() string {
	return "task_instances"
}

// ToAgent converts an AgentModel to a models.Agent
func (a *AgentModel) ToAgent() *models.Agent {
	return &models.Agent{
		ID:              a.ID,
		Name:            a.Name,
		Description:     a.Description,
		Type:            models.AgentType(a.AgentType),
		SourceReference: a.SourceReference,
		InputSchema:     map[string]interface{}(a.InputSchema),
		OutputSchema:    map[string]interface{}(a.OutputSchema),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// FromAgent converts a models.Agent to an AgentModel
func FromAgent(a *models.Agent) (*AgentModel, error) {
	switch a.Type {
	case models.AgentWASM, models.AgentDocker, models.AgentPythonFunction:
	default:
		return nil, fmt.Errorf("unknown agent type: %q", a.Type)
	}

	return &AgentModel{
		ID:              a.ID,
		Name:            a.Name,
		Description:     a.Description,
		AgentType:       string(a.Type),
		SourceReference: a.SourceReference,
		InputSchema:     JSONB(a.InputSchema),
		OutputSchema:    JSONB(a.OutputSchema),
	}, nil
}

// ToTemplate converts a DAGTemplateModel to a models.DAGTemplate
func (t *DAGTemplateModel) ToTemplate() *models.DAGTemplate {
	return &models.DAGTemplate{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		Schedule:      t.Schedule,
		DAGDefinition: models.DAGDefinition(t.DAGDefinition),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// FromTemplate converts a models.DAGTemplate to a DAGTemplateModel
func FromTemplate(t *models.DAGTemplate) *DAGTemplateModel {
	return &DAGTemplateModel{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		Schedule:      t.Schedule,
		DAGDefinition: DAGDefColumn(t.DAGDefinition),
	}
}

// ToWorkflowInstance converts a WorkflowInstanceModel to a models.WorkflowInstance
func (w *WorkflowInstanceModel) ToWorkflowInstance() *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:            w.ID,
		TemplateID:    w.TemplateID,
		DAGDefinition: models.DAGDefinition(w.DAGDefinition),
		Status:        models.WorkflowStatus(w.Status),
		Priority:      w.Priority,
		Inputs:        map[string]interface{}(w.Inputs),
		Outputs:       map[string]interface{}(w.Outputs),
		StartedAt:     w.StartedAt,
		CompletedAt:   w.CompletedAt,
		CreatedAt:     w.CreatedAt,
	}
}

// FromWorkflowInstance converts a models.WorkflowInstance to a WorkflowInstanceModel
func FromWorkflowInstance(w *models.WorkflowInstance) *WorkflowInstanceModel {
	status := w.Status
	if status == "" {
		status = models.WorkflowQueued
	}

	return &WorkflowInstanceModel{
		ID:            w.ID,
		TemplateID:    w.TemplateID,
		DAGDefinition: DAGDefColumn(w.DAGDefinition),
		Status:        string(status),
		Priority:      w.Priority,
		Inputs:        JSONB(w.Inputs),
		Outputs:       JSONB(w.Outputs),
		StartedAt:     w.StartedAt,
		CompletedAt:   w.CompletedAt,
	}
}

// ToTaskInstance converts a TaskInstanceModel to a models.TaskInstance
func (t *TaskInstanceModel) ToTaskInstance() *models.TaskInstance {
	return &models.TaskInstance{
		ID:                 t.ID,
		WorkflowInstanceID: t.WorkflowInstanceID,
		NodeID:             t.NodeID,
		AgentID:            t.AgentID,
		Status:             models.TaskStatus(t.Status),
		InputParams:        map[string]interface{}(t.InputParams),
		Outputs:            map[string]interface{}(t.Outputs),
		Logs:               t.Logs,
		RetryCount:         t.RetryCount,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
	}
}

// FromTaskInstance converts a models.TaskInstance to a TaskInstanceModel
func FromTaskInstance(t *models.TaskInstance) *TaskInstanceModel {
	status := t.Status
	if status == "" {
		status = models.TaskPending
	}

	return &TaskInstanceModel{
		ID:                 t.ID,
		WorkflowInstanceID: t.WorkflowInstanceID,
		NodeID:             t.NodeID,
		AgentID:            t.AgentID,
		Status:             string(status),
		InputParams:        JSONB(t.InputParams),
		Outputs:            JSONB(t.Outputs),
		Logs:               t.Logs,
		RetryCount:         t.RetryCount,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
	}
}
