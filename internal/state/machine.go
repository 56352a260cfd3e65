// Package state validates lifecycle transitions for workflow and task
// instances. Terminal states are absorbing; transitioning a state onto
// itself is allowed so redelivered events stay idempotent.
package state

import (
	"errors"
	"fmt"

	"github.com/netbase/engine/pkg/models"
)

// ErrInvalidTransition is returned when a transition is not permitted.
var ErrInvalidTransition = errors.New("invalid state transition")

// WorkflowMachine validates workflow instance status transitions.
type WorkflowMachine struct {
	valid map[models.WorkflowStatus][]models.WorkflowStatus
}

// NewWorkflowMachine creates the workflow status machine:
// QUEUED -> RUNNING -> {COMPLETED, FAILED, CANCELLED}.
func NewWorkflowMachine() *WorkflowMachine {
	return &WorkflowMachine{
		valid: map[models.WorkflowStatus][]models.WorkflowStatus{
			models.WorkflowQueued: {
				models.WorkflowRunning,
				models.WorkflowFailed, // definition errors fail before RUNNING
				models.WorkflowCancelled,
			},
			models.WorkflowRunning: {
				models.WorkflowCompleted,
				models.WorkflowFailed,
				models.WorkflowCancelled,
			},
			models.WorkflowCompleted: {},
			models.WorkflowFailed:    {},
			models.WorkflowCancelled: {},
		},
	}
}

// CanTransition reports whether from -> to is permitted.
func (m *WorkflowMachine) CanTransition(from, to models.WorkflowStatus) bool {
	if from == to {
		return true
	}
	for _, s := range m.valid[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition if from -> to is not
// permitted.
func (m *WorkflowMachine) ValidateTransition(from, to models.WorkflowStatus) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: workflow cannot go from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// TaskMachine validates task instance status transitions.
type TaskMachine struct {
	valid map[models.TaskStatus][]models.TaskStatus
}

// NewTaskMachine creates the task status machine. QUEUED is a transient
// value observable between materialization and group dispatch.
func NewTaskMachine() *TaskMachine {
	return &TaskMachine{
		valid: map[models.TaskStatus][]models.TaskStatus{
			models.TaskPending: {
				models.TaskQueued,
				models.TaskRunning,
				models.TaskFailed, // bulk-fail on catastrophic group error
			},
			models.TaskQueued: {
				models.TaskRunning,
				models.TaskFailed,
			},
			models.TaskRunning: {
				models.TaskCompleted,
				models.TaskFailed,
			},
			models.TaskCompleted: {},
			models.TaskFailed:    {},
		},
	}
}

// CanTransition reports whether from -> to is permitted.
func (m *TaskMachine) CanTransition(from, to models.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range m.valid[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition if from -> to is not
// permitted.
func (m *TaskMachine) ValidateTransition(from, to models.TaskStatus) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: task cannot go from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}
