package models

import "time"

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowQueued    WorkflowStatus = "QUEUED"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal reports whether the workflow status is absorbing.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task instance.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether the task status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// AgentType selects the execution backend for an agent.
type AgentType string

const (
	AgentWASM           AgentType = "WASM"
	AgentDocker         AgentType = "DOCKER"
	AgentPythonFunction AgentType = "PYTHON_FUNCTION"
)

// Agent is an executable unit registered by a user. SourceReference is a
// filesystem path for WASM modules, an image ref for Docker, and an endpoint
// hint for hosted functions.
type Agent struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Type            AgentType              `json:"type"`
	SourceReference string                 `json:"source_reference"`
	InputSchema     map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema    map[string]interface{} `json:"output_schema,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Node is one vertex of a DAG definition.
type Node struct {
	ID   string   `json:"id"`
	Data NodeData `json:"data"`
}

// NodeData carries the agent binding and invocation parameters of a node.
type NodeData struct {
	AgentID     int64                  `json:"agent_id"`
	InputParams map[string]interface{} `json:"input_params,omitempty"`
	RetryPolicy *RetryPolicy           `json:"retry_policy,omitempty"`
	TimeoutSec  int                    `json:"timeout_seconds,omitempty"`
}

// RetryPolicy is declared on template nodes. See DESIGN.md: the scheduler
// currently fails the workflow on first task failure and does not consult it.
type RetryPolicy struct {
	MaxRetries   int `json:"max_retries"`
	DelaySeconds int `json:"delay_seconds"`
}

// Edge is a data-dependency arc between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAGDefinition is the graph shape stored on templates and denormalized onto
// workflow instances at trigger time.
type DAGDefinition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node with the given id, or nil.
func (d *DAGDefinition) Node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// DAGTemplate is a reusable DAG of agent invocations.
type DAGTemplate struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Schedule      string        `json:"schedule,omitempty"` // optional cron expression
	DAGDefinition DAGDefinition `json:"dag_definition"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// WorkflowInstance is one concrete run of a template. DAGDefinition is a
// snapshot taken when the instance is created, so template edits never affect
// in-flight runs.
type WorkflowInstance struct {
	ID            int64                  `json:"id"`
	TemplateID    int64                  `json:"template_id"`
	DAGDefinition DAGDefinition          `json:"dag_definition"`
	Status        WorkflowStatus         `json:"status"`
	Priority      int                    `json:"priority"`
	Inputs        map[string]interface{} `json:"inputs,omitempty"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TaskInstance is one node of a workflow instance, bound to an agent.
type TaskInstance struct {
	ID                 int64                  `json:"id"`
	WorkflowInstanceID int64                  `json:"workflow_instance_id"`
	NodeID             string                 `json:"node_id"`
	AgentID            int64                  `json:"agent_id"`
	Status             TaskStatus             `json:"status"`
	InputParams        map[string]interface{} `json:"input_params,omitempty"`
	Outputs            map[string]interface{} `json:"outputs,omitempty"`
	Logs               string                 `json:"logs,omitempty"`
	RetryCount         int                    `json:"retry_count"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}
