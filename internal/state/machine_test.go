package state

import (
	"errors"
	"testing"

	"github.com/netbase/engine/pkg/models"
)

func TestWorkflowMachine_HappyPath(t *testing.T) {
	m := NewWorkflowMachine()

	steps := []struct {
		from, to models.WorkflowStatus
	}{
		{models.WorkflowQueued, models.WorkflowRunning},
		{models.WorkflowRunning, models.WorkflowCompleted},
	}
	for _, s := range steps {
		if err := m.ValidateTransition(s.from, s.to); err != nil {
			t.Errorf("Expected %s -> %s to be valid, got %v", s.from, s.to, err)
		}
	}
}

func TestWorkflowMachine_QueuedCanFailDirectly(t *testing.T) {
	// Cyclic DAGs and missing start nodes fail the workflow before it runs.
	m := NewWorkflowMachine()
	if !m.CanTransition(models.WorkflowQueued, models.WorkflowFailed) {
		t.Error("Expected QUEUED -> FAILED to be valid")
	}
}

func TestWorkflowMachine_TerminalStatesAbsorb(t *testing.T) {
	m := NewWorkflowMachine()

	for _, terminal := range []models.WorkflowStatus{
		models.WorkflowCompleted, models.WorkflowFailed, models.WorkflowCancelled,
	} {
		for _, to := range []models.WorkflowStatus{
			models.WorkflowQueued, models.WorkflowRunning, models.WorkflowCompleted, models.WorkflowFailed,
		} {
			if to == terminal {
				continue
			}
			err := m.ValidateTransition(terminal, to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected %s -> %s to be rejected, got %v", terminal, to, err)
			}
		}
	}
}

func TestWorkflowMachine_SameStateIsIdempotent(t *testing.T) {
	m := NewWorkflowMachine()
	if err := m.ValidateTransition(models.WorkflowFailed, models.WorkflowFailed); err != nil {
		t.Errorf("Expected FAILED -> FAILED to be allowed, got %v", err)
	}
}

func TestTaskMachine_HappyPath(t *testing.T) {
	m := NewTaskMachine()

	steps := []struct {
		from, to models.TaskStatus
	}{
		{models.TaskPending, models.TaskQueued},
		{models.TaskQueued, models.TaskRunning},
		{models.TaskRunning, models.TaskCompleted},
	}
	for _, s := range steps {
		if err := m.ValidateTransition(s.from, s.to); err != nil {
			t.Errorf("Expected %s -> %s to be valid, got %v", s.from, s.to, err)
		}
	}
}

func TestTaskMachine_PendingCanBulkFail(t *testing.T) {
	m := NewTaskMachine()
	if !m.CanTransition(models.TaskPending, models.TaskFailed) {
		t.Error("Expected PENDING -> FAILED to be valid for catastrophic group errors")
	}
}

func TestTaskMachine_TerminalStatesAbsorb(t *testing.T) {
	m := NewTaskMachine()

	if err := m.ValidateTransition(models.TaskCompleted, models.TaskRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected COMPLETED -> RUNNING to be rejected, got %v", err)
	}
	if err := m.ValidateTransition(models.TaskFailed, models.TaskPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected FAILED -> PENDING to be rejected, got %v", err)
	}
}
