package dto

import (
	"time"

	"github.com/netbase/engine/pkg/models"
)

// TriggerWorkflowRequest is the payload for POST /templates/:id/trigger.
type TriggerWorkflowRequest struct {
	Inputs   map[string]interface{} `json:"inputs"`
	Priority int                    `json:"priority" validate:"min=0,max=10"`
}

// WorkflowResponse is the API shape of a workflow instance.
type WorkflowResponse struct {
	ID          int64                  `json:"id"`
	TemplateID  int64                  `json:"template_id"`
	Status      string                 `json:"status"`
	Priority    int                    `json:"priority"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ToWorkflowResponse converts a model to its API shape.
func ToWorkflowResponse(w *models.WorkflowInstance) WorkflowResponse {
	return WorkflowResponse{
		ID:          w.ID,
		TemplateID:  w.TemplateID,
		Status:      string(w.Status),
		Priority:    w.Priority,
		Inputs:      w.Inputs,
		Outputs:     w.Outputs,
		StartedAt:   w.StartedAt,
		CompletedAt: w.CompletedAt,
		CreatedAt:   w.CreatedAt,
	}
}

// WorkflowListResponse is a paginated workflow instance list.
type WorkflowListResponse struct {
	Workflows  []WorkflowResponse `json:"workflows"`
	Pagination PaginationMeta     `json:"pagination"`
}

// TaskResponse is the API shape of a task instance.
type TaskResponse struct {
	ID                 int64                  `json:"id"`
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	NodeID             string                 `json:"node_id"`
	AgentID            int64                  `json:"agent_id"`
	Status             string                 `json:"status"`
	InputParams        map[string]interface{} `json:"input_params,omitempty"`
	Outputs            map[string]interface{} `json:"outputs,omitempty"`
	Logs               string                 `json:"logs,omitempty"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}

// ToTaskResponse converts a model to its API shape.
func ToTaskResponse(t *models.TaskInstance) TaskResponse {
	return TaskResponse{
		ID:                 t.ID,
		WorkflowInstanceID: t.WorkflowInstanceID,
		NodeID:             t.NodeID,
		AgentID:            t.AgentID,
		Status:             string(t.Status),
		InputParams:        t.InputParams,
		Outputs:            t.Outputs,
		Logs:               t.Logs,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
	}
}

// WorkflowDetailResponse is a workflow instance with its tasks.
type WorkflowDetailResponse struct {
	WorkflowResponse
	Tasks []TaskResponse `json:"tasks"`
}
