package dto

import (
	"time"

	"github.com/netbase/engine/pkg/models"
)

// NodeDTO is one vertex of a template's DAG definition.
type NodeDTO struct {
	ID   string      `json:"id" binding:"required"`
	Data NodeDataDTO `json:"data"`
}

// NodeDataDTO carries the agent binding of a node.
type NodeDataDTO struct {
	AgentID     int64                  `json:"agent_id" binding:"required"`
	InputParams map[string]interface{} `json:"input_params"`
	RetryPolicy *RetryPolicyDTO        `json:"retry_policy"`
	TimeoutSec  int                    `json:"timeout_seconds"`
}

// RetryPolicyDTO mirrors models.RetryPolicy.
type RetryPolicyDTO struct {
	MaxRetries   int `json:"max_retries"`
	DelaySeconds int `json:"delay_seconds"`
}

// EdgeDTO is a dependency arc between two nodes.
type EdgeDTO struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// DAGDefinitionDTO is the wire shape of a DAG definition.
type DAGDefinitionDTO struct {
	Nodes []NodeDTO `json:"nodes" binding:"required,min=1"`
	Edges []EdgeDTO `json:"edges"`
}

// ToDAGDefinition converts the DTO to a model.
func (d *DAGDefinitionDTO) ToDAGDefinition() models.DAGDefinition {
	def := models.DAGDefinition{
		Nodes: make([]models.Node, len(d.Nodes)),
		Edges: make([]models.Edge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		node := models.Node{
			ID: n.ID,
			Data: models.NodeData{
				AgentID:     n.Data.AgentID,
				InputParams: n.Data.InputParams,
				TimeoutSec:  n.Data.TimeoutSec,
			},
		}
		if n.Data.RetryPolicy != nil {
			node.Data.RetryPolicy = &models.RetryPolicy{
				MaxRetries:   n.Data.RetryPolicy.MaxRetries,
				DelaySeconds: n.Data.RetryPolicy.DelaySeconds,
			}
		}
		def.Nodes[i] = node
	}
	for i, e := range d.Edges {
		def.Edges[i] = models.Edge{From: e.From, To: e.To}
	}
	return def
}

// FromDAGDefinition converts a model definition to its wire shape.
func FromDAGDefinition(def models.DAGDefinition) DAGDefinitionDTO {
	dto := DAGDefinitionDTO{
		Nodes: make([]NodeDTO, len(def.Nodes)),
		Edges: make([]EdgeDTO, len(def.Edges)),
	}
	for i, n := range def.Nodes {
		node := NodeDTO{
			ID: n.ID,
			Data: NodeDataDTO{
				AgentID:     n.Data.AgentID,
				InputParams: n.Data.InputParams,
				TimeoutSec:  n.Data.TimeoutSec,
			},
		}
		if n.Data.RetryPolicy != nil {
			node.Data.RetryPolicy = &RetryPolicyDTO{
				MaxRetries:   n.Data.RetryPolicy.MaxRetries,
				DelaySeconds: n.Data.RetryPolicy.DelaySeconds,
			}
		}
		dto.Nodes[i] = node
	}
	for i, e := range def.Edges {
		dto.Edges[i] = EdgeDTO{From: e.From, To: e.To}
	}
	return dto
}

// CreateTemplateRequest is the payload for creating a DAG template.
type CreateTemplateRequest struct {
	Name          string           `json:"name" binding:"required"`
	Description   string           `json:"description"`
	Schedule      string           `json:"schedule" validate:"omitempty,cron"`
	DAGDefinition DAGDefinitionDTO `json:"dag_definition" binding:"required"`
}

// ToTemplate converts the request to a model.
func (r *CreateTemplateRequest) ToTemplate() *models.DAGTemplate {
	return &models.DAGTemplate{
		Name:          r.Name,
		Description:   r.Description,
		Schedule:      r.Schedule,
		DAGDefinition: r.DAGDefinition.ToDAGDefinition(),
	}
}

// TemplateResponse is the API shape of a template.
type TemplateResponse struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Schedule      string           `json:"schedule,omitempty"`
	DAGDefinition DAGDefinitionDTO `json:"dag_definition"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ToTemplateResponse converts a model to its API shape.
func ToTemplateResponse(t *models.DAGTemplate) TemplateResponse {
	return TemplateResponse{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		Schedule:      t.Schedule,
		DAGDefinition: FromDAGDefinition(t.DAGDefinition),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// TemplateListResponse is a paginated template list.
type TemplateListResponse struct {
	Templates  []TemplateResponse `json:"templates"`
	Pagination PaginationMeta     `json:"pagination"`
}
