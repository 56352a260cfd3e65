package scheduler

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/dag"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/models"
)

const groupIDLength = 12

// Handler drives workflow instances forward in response to scheduler_queue
// events. It is the only component that writes workflow and task state
// transitions on the scheduling side; a per-workflow advisory lock plus the
// unique (workflow_instance_id, node_id) constraint keep concurrent
// deliveries from double-dispatching nodes.
type Handler struct {
	workflows storage.WorkflowRepository
	tasks     storage.TaskRepository
	agents    storage.AgentRepository
	publisher bus.Publisher
	locker    Locker
	logger    zerolog.Logger
}

// NewHandler wires a scheduler event handler.
func NewHandler(
	workflows storage.WorkflowRepository,
	tasks storage.TaskRepository,
	agents storage.AgentRepository,
	publisher bus.Publisher,
	locker Locker,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		workflows: workflows,
		tasks:     tasks,
		agents:    agents,
		publisher: publisher,
		locker:    locker,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// HandleMessage is the scheduler_queue subscription entrypoint.
func (h *Handler) HandleMessage(ctx context.Context, data []byte) error {
	ev, err := models.DecodeSchedulerEvent(data)
	if err != nil {
		h.logger.Error().Err(err).Msg("dropping malformed scheduler event")
		return nil
	}
	return h.Handle(ctx, ev)
}

// Handle processes one scheduler event. Events referencing rows that no
// longer exist, or workflows already in a terminal state, are dropped.
// Returned errors cause the bus to redeliver the event.
func (h *Handler) Handle(ctx context.Context, ev models.SchedulerEvent) error {
	switch ev.EventType {
	case models.EventStartWorkflow:
		return h.handleStartWorkflow(ctx, ev.InstanceID)
	case models.EventTaskCompleted:
		return h.handleTaskCompleted(ctx, ev.TaskInstanceID)
	case models.EventTaskFailed:
		return h.handleTaskFailed(ctx, ev.TaskInstanceID, ev.Error)
	default:
		h.logger.Error().Str("event_type", string(ev.EventType)).Msg("dropping unknown event")
		return nil
	}
}

func (h *Handler) handleStartWorkflow(ctx context.Context, instanceID int64) error {
	logger := h.logger.With().Int64("workflow_instance_id", instanceID).Logger()

	// The workflow is loaded under the lock: a snapshot read before Acquire
	// could miss a terminal transition made by a concurrent consumer.
	release, err := h.locker.Acquire(ctx, instanceID)
	if err != nil {
		return err
	}
	defer release()

	wf, err := h.workflows.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Msg("start event for unknown workflow, dropping")
			return nil
		}
		return err
	}
	if wf.Status.IsTerminal() {
		logger.Info().Str("status", string(wf.Status)).Msg("workflow already terminal, ignoring start")
		return nil
	}

	def := &wf.DAGDefinition
	if dag.IsCyclic(def) {
		logger.Error().Msg("workflow definition contains a cycle")
		return h.failWorkflow(ctx, logger, instanceID)
	}
	starts := dag.StartNodes(def)
	if len(starts) == 0 {
		logger.Error().Msg("workflow definition has no start nodes")
		return h.failWorkflow(ctx, logger, instanceID)
	}

	if err := h.workflows.MarkRunning(ctx, instanceID); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			logger.Info().Msg("workflow no longer queued, dropping start")
			return nil
		}
		return err
	}
	logger.Info().Int("start_nodes", len(starts)).Msg("workflow started")

	nodeIDs := make([]string, len(starts))
	for i, n := range starts {
		nodeIDs[i] = n.ID
	}
	return h.dispatchNodes(ctx, logger, wf, nodeIDs)
}

func (h *Handler) handleTaskCompleted(ctx context.Context, taskInstanceID int64) error {
	logger := h.logger.With().Int64("task_instance_id", taskInstanceID).Logger()

	task, err := h.tasks.Get(ctx, taskInstanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Msg("completion event for unknown task, dropping")
			return nil
		}
		return err
	}
	logger = logger.With().Int64("workflow_instance_id", task.WorkflowInstanceID).Str("node_id", task.NodeID).Logger()

	release, err := h.locker.Acquire(ctx, task.WorkflowInstanceID)
	if err != nil {
		return err
	}
	defer release()

	wf, err := h.workflows.Get(ctx, task.WorkflowInstanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Msg("completion event for unknown workflow, dropping")
			return nil
		}
		return err
	}
	if wf.Status.IsTerminal() {
		logger.Info().Str("status", string(wf.Status)).Msg("workflow already terminal, ignoring completion")
		return nil
	}

	def := &wf.DAGDefinition

	var ready []string
	for _, next := range dag.Downstream(def, task.NodeID) {
		if def.Node(next) == nil {
			continue
		}
		if _, err := h.tasks.GetByNode(ctx, wf.ID, next); err == nil {
			continue // already materialized by an earlier delivery
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		met, err := dag.DependenciesMet(ctx, h.tasks, wf.ID, next, def)
		if err != nil {
			return err
		}
		if met {
			ready = append(ready, next)
		}
	}

	if len(ready) > 0 {
		if err := h.dispatchNodes(ctx, logger, wf, ready); err != nil {
			return err
		}
	}

	completed, err := h.tasks.CountCompleted(ctx, wf.ID)
	if err != nil {
		return err
	}
	if completed == int64(len(def.Nodes)) {
		if err := h.workflows.MarkCompleted(ctx, wf.ID); err != nil {
			if errors.Is(err, storage.ErrStaleState) {
				return nil
			}
			return err
		}
		logger.Info().Msg("workflow completed")
	}
	return nil
}

func (h *Handler) handleTaskFailed(ctx context.Context, taskInstanceID int64, errMsg string) error {
	logger := h.logger.With().Int64("task_instance_id", taskInstanceID).Logger()

	task, err := h.tasks.Get(ctx, taskInstanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Msg("failure event for unknown task, dropping")
			return nil
		}
		return err
	}
	logger = logger.With().Int64("workflow_instance_id", task.WorkflowInstanceID).Str("node_id", task.NodeID).Logger()

	release, err := h.locker.Acquire(ctx, task.WorkflowInstanceID)
	if err != nil {
		return err
	}
	defer release()

	wf, err := h.workflows.Get(ctx, task.WorkflowInstanceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Msg("failure event for unknown workflow, dropping")
			return nil
		}
		return err
	}
	if wf.Status.IsTerminal() {
		logger.Info().Str("status", string(wf.Status)).Msg("workflow already terminal, ignoring failure")
		return nil
	}

	logger.Error().Str("error", errMsg).Msg("task failed, failing workflow")
	return h.failWorkflow(ctx, logger, wf.ID)
}

// dispatchNodes materializes task instances for the given nodes and ships
// them to the compute layer as one group. Nodes whose tasks already exist
// are skipped. An unresolvable agent binding fails the whole workflow.
func (h *Handler) dispatchNodes(ctx context.Context, logger zerolog.Logger, wf *models.WorkflowInstance, nodeIDs []string) error {
	groupID, err := gonanoid.New(groupIDLength)
	if err != nil {
		return fmt.Errorf("failed to generate group id: %w", err)
	}

	var (
		groupTasks []models.GroupTask
		taskIDs    []int64
	)
	for _, nodeID := range nodeIDs {
		node := wf.DAGDefinition.Node(nodeID)
		if node == nil || node.Data.AgentID == 0 {
			logger.Error().Str("node_id", nodeID).Msg("node has no agent binding")
			return h.failWorkflow(ctx, logger, wf.ID)
		}

		agent, err := h.agents.Get(ctx, node.Data.AgentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Error().Str("node_id", nodeID).Int64("agent_id", node.Data.AgentID).Msg("node references unknown agent")
				return h.failWorkflow(ctx, logger, wf.ID)
			}
			return err
		}

		// Nodes without input_params get an empty object, not null.
		params := node.Data.InputParams
		if params == nil {
			params = map[string]interface{}{}
		}

		task := &models.TaskInstance{
			WorkflowInstanceID: wf.ID,
			NodeID:             nodeID,
			AgentID:            agent.ID,
			Status:             models.TaskPending,
			InputParams:        params,
		}
		if err := h.tasks.Create(ctx, task); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				logger.Info().Str("node_id", nodeID).Msg("task already materialized, skipping")
				continue
			}
			return err
		}

		groupTasks = append(groupTasks, models.GroupTask{
			TaskInstanceID:  task.ID,
			Type:            agent.Type,
			SourceReference: agent.SourceReference,
			Params:          models.TaskParams{InputParams: params},
		})
		taskIDs = append(taskIDs, task.ID)
	}

	if len(groupTasks) == 0 {
		return nil
	}

	group := models.TaskGroup{GroupID: groupID, Tasks: groupTasks}
	if err := h.publisher.Publish(ctx, bus.ComputeQueue, group); err != nil {
		return fmt.Errorf("failed to publish task group: %w", err)
	}
	if err := h.tasks.BulkMarkQueued(ctx, taskIDs); err != nil {
		return err
	}

	logger.Info().Str("group_id", groupID).Int("tasks", len(groupTasks)).Msg("task group dispatched")
	return nil
}

func (h *Handler) failWorkflow(ctx context.Context, logger zerolog.Logger, instanceID int64) error {
	if err := h.workflows.MarkFailed(ctx, instanceID); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			logger.Info().Msg("workflow already terminal")
			return nil
		}
		return err
	}
	logger.Info().Msg("workflow failed")
	return nil
}
