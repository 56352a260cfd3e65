package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/models"
)

const defaultSoftTimeout = 3600 * time.Second

// GroupExecutor runs whole task groups off compute_queue: mark the group
// running, fan every task out to its backend, persist all outcomes in one
// transaction, then report each task back to the scheduler.
type GroupExecutor struct {
	tasks       storage.TaskRepository
	publisher   bus.Publisher
	backends    map[models.AgentType]Backend
	softTimeout time.Duration
	logger      zerolog.Logger
}

// Option configures a GroupExecutor.
type Option func(*GroupExecutor)

// WithSoftTimeout overrides the wall-clock budget for a whole group.
func WithSoftTimeout(d time.Duration) Option {
	return func(e *GroupExecutor) {
		e.softTimeout = d
	}
}

// NewGroupExecutor creates an executor with no backends registered.
func NewGroupExecutor(tasks storage.TaskRepository, publisher bus.Publisher, logger zerolog.Logger, opts ...Option) *GroupExecutor {
	e := &GroupExecutor{
		tasks:       tasks,
		publisher:   publisher,
		backends:    make(map[models.AgentType]Backend),
		softTimeout: defaultSoftTimeout,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterBackend makes a backend available for its agent type.
func (e *GroupExecutor) RegisterBackend(b Backend) {
	e.backends[b.Type()] = b
}

// HandleMessage is the compute_queue subscription entrypoint.
func (e *GroupExecutor) HandleMessage(ctx context.Context, data []byte) error {
	group, err := models.DecodeTaskGroup(data)
	if err != nil {
		e.logger.Error().Err(err).Msg("dropping malformed task group")
		return nil
	}
	return e.ExecuteGroup(ctx, group)
}

// ExecuteGroup runs every task in the group concurrently and persists the
// results together. A group that exceeds the soft timeout is force-failed
// but acked; infrastructure errors are returned so the message redelivers.
func (e *GroupExecutor) ExecuteGroup(ctx context.Context, group models.TaskGroup) error {
	logger := e.logger.With().Str("group_id", group.GroupID).Logger()

	if len(group.Tasks) == 0 {
		logger.Warn().Msg("received empty task group")
		return nil
	}

	ids := make([]int64, len(group.Tasks))
	for i, t := range group.Tasks {
		ids[i] = t.TaskInstanceID
	}

	if err := e.tasks.BulkMarkRunning(ctx, ids); err != nil {
		return e.failGroup(ctx, logger, ids, fmt.Sprintf("failed to mark group running: %v", err), err)
	}

	logger.Info().Int("tasks", len(group.Tasks)).Msg("executing task group")

	runCtx, cancel := context.WithTimeout(ctx, e.softTimeout)
	defer cancel()

	results := make([]Result, len(group.Tasks))
	var wg sync.WaitGroup
	for i, task := range group.Tasks {
		wg.Add(1)
		go func(i int, task models.GroupTask) {
			defer wg.Done()
			results[i] = e.runTask(runCtx, group.GroupID, task)
		}(i, task)
	}
	wg.Wait()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logger.Error().Dur("timeout", e.softTimeout).Msg("task group timed out")
		if err := e.failGroup(ctx, logger, ids, "Task group timed out.", nil); err != nil {
			return err
		}
		return nil
	}

	outcomes := make([]storage.TaskOutcome, len(group.Tasks))
	for i, task := range group.Tasks {
		outcomes[i] = toOutcome(task.TaskInstanceID, results[i])
	}

	if err := e.tasks.FinishBatch(ctx, outcomes); err != nil {
		return e.failGroup(ctx, logger, ids, fmt.Sprintf("failed to persist group results: %v", err), err)
	}

	for _, o := range outcomes {
		e.emitOutcome(ctx, logger, o)
	}

	logger.Info().Msg("task group finished")
	return nil
}

func (e *GroupExecutor) runTask(ctx context.Context, groupID string, task models.GroupTask) (res Result) {
	backend, ok := e.backends[task.Type]
	if !ok {
		return Result{Status: StatusFailed, Error: fmt.Sprintf("Unsupported agent type: %s", task.Type)}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("group_id", groupID).
				Int64("task_instance_id", task.TaskInstanceID).
				Interface("panic", r).
				Msg("backend panicked")
			res = Result{Status: StatusFailed, Error: fmt.Sprintf("backend panic: %v", r)}
		}
	}()

	return backend.Execute(ctx, groupID, task)
}

// failGroup force-fails every non-terminal task in the group and reports
// each as failed to the scheduler. cause is returned when the caller needs
// the message redelivered; nil means the failure is final and acked.
func (e *GroupExecutor) failGroup(ctx context.Context, logger zerolog.Logger, ids []int64, reason string, cause error) error {
	if err := e.tasks.BulkFail(ctx, ids, reason); err != nil {
		logger.Error().Err(err).Msg("failed to bulk-fail task group")
		if cause != nil {
			return cause
		}
		return err
	}
	for _, id := range ids {
		if err := e.publisher.Publish(ctx, bus.SchedulerQueue, models.TaskFailedEvent(id, reason)); err != nil {
			logger.Error().Err(err).Int64("task_instance_id", id).Msg("failed to publish task failure")
		}
	}
	return cause
}

func (e *GroupExecutor) emitOutcome(ctx context.Context, logger zerolog.Logger, o storage.TaskOutcome) {
	var ev models.SchedulerEvent
	if o.Status == models.TaskCompleted {
		ev = models.TaskCompletedEvent(o.ID)
	} else {
		ev = models.TaskFailedEvent(o.ID, o.Logs)
	}
	if err := e.publisher.Publish(ctx, bus.SchedulerQueue, ev); err != nil {
		logger.Error().Err(err).
			Int64("task_instance_id", o.ID).
			Str("event_type", string(ev.EventType)).
			Msg("failed to publish task outcome")
	}
}

func toOutcome(id int64, res Result) storage.TaskOutcome {
	if res.Status == StatusSuccess {
		return storage.TaskOutcome{ID: id, Status: models.TaskCompleted, Outputs: res.Output}
	}
	errMsg := res.Error
	if errMsg == "" {
		errMsg = "task execution failed"
	}
	return storage.TaskOutcome{ID: id, Status: models.TaskFailed, Outputs: res.Output, Logs: errMsg}
}
