package models

import (
	"encoding/json"
	"fmt"
)

// EventType tags the scheduler event union.
type EventType string

const (
	EventStartWorkflow EventType = "START_WORKFLOW"
	EventTaskCompleted EventType = "TASK_COMPLETED"
	EventTaskFailed    EventType = "TASK_FAILED"
)

// SchedulerEvent is the tagged message driving DAG progress on
// scheduler_queue. Exactly one of the id fields is meaningful per variant.
type SchedulerEvent struct {
	EventType      EventType `json:"event_type"`
	InstanceID     int64     `json:"instance_id,omitempty"`
	TaskInstanceID int64     `json:"task_instance_id,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// StartWorkflowEvent builds a START_WORKFLOW event.
func StartWorkflowEvent(instanceID int64) SchedulerEvent {
	return SchedulerEvent{EventType: EventStartWorkflow, InstanceID: instanceID}
}

// TaskCompletedEvent builds a TASK_COMPLETED event.
func TaskCompletedEvent(taskInstanceID int64) SchedulerEvent {
	return SchedulerEvent{EventType: EventTaskCompleted, TaskInstanceID: taskInstanceID}
}

// TaskFailedEvent builds a TASK_FAILED event.
func TaskFailedEvent(taskInstanceID int64, errMsg string) SchedulerEvent {
	return SchedulerEvent{EventType: EventTaskFailed, TaskInstanceID: taskInstanceID, Error: errMsg}
}

// DecodeSchedulerEvent parses an event off the wire and validates its tag.
func DecodeSchedulerEvent(data []byte) (SchedulerEvent, error) {
	var ev SchedulerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode scheduler event: %w", err)
	}
	switch ev.EventType {
	case EventStartWorkflow, EventTaskCompleted, EventTaskFailed:
		return ev, nil
	default:
		return ev, fmt.Errorf("unknown event type: %q", ev.EventType)
	}
}

// GroupTask is one entry of a task-group payload on compute_queue.
type GroupTask struct {
	TaskInstanceID  int64      `json:"task_instance_id"`
	Type            AgentType  `json:"type"`
	SourceReference string     `json:"source_reference"`
	Params          TaskParams `json:"params"`
}

// TaskParams wraps the invocation parameters forwarded to the backend.
type TaskParams struct {
	InputParams map[string]interface{} `json:"input_params"`
}

// TaskGroup is the transient payload dispatched to the compute layer. All
// tasks in a group became ready at the same scheduler step and share a
// group id for tracing.
type TaskGroup struct {
	GroupID string      `json:"group_id"`
	Tasks   []GroupTask `json:"tasks"`
}

// DecodeTaskGroup parses a group payload off the wire.
func DecodeTaskGroup(data []byte) (TaskGroup, error) {
	var g TaskGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("failed to decode task group: %w", err)
	}
	return g, nil
}
