package dto

import (
	"time"

	"github.com/netbase/engine/pkg/models"
)

// CreateAgentRequest is the payload for registering an agent.
type CreateAgentRequest struct {
	Name            string                 `json:"name" binding:"required"`
	Description     string                 `json:"description"`
	Type            string                 `json:"type" binding:"required" validate:"agent_type"`
	SourceReference string                 `json:"source_reference" binding:"required"`
	InputSchema     map[string]interface{} `json:"input_schema"`
	OutputSchema    map[string]interface{} `json:"output_schema"`
}

// ToAgent converts the request to a model.
func (r *CreateAgentRequest) ToAgent() *models.Agent {
	return &models.Agent{
		Name:            r.Name,
		Description:     r.Description,
		Type:            models.AgentType(r.Type),
		SourceReference: r.SourceReference,
		InputSchema:     r.InputSchema,
		OutputSchema:    r.OutputSchema,
	}
}

// AgentResponse is the API shape of an agent.
type AgentResponse struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Type            string                 `json:"type"`
	SourceReference string                 `json:"source_reference"`
	InputSchema     map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema    map[string]interface{} `json:"output_schema,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ToAgentResponse converts a model to its API shape.
func ToAgentResponse(a *models.Agent) AgentResponse {
	return AgentResponse{
		ID:              a.ID,
		Name:            a.Name,
		Description:     a.Description,
		Type:            string(a.Type),
		SourceReference: a.SourceReference,
		InputSchema:     a.InputSchema,
		OutputSchema:    a.OutputSchema,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// AgentListResponse is a paginated agent list.
type AgentListResponse struct {
	Agents     []AgentResponse `json:"agents"`
	Pagination PaginationMeta  `json:"pagination"`
}
