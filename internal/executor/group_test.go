package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/models"
)

type fakeTaskRepo struct {
	mu          sync.Mutex
	running     []int64
	failed      []int64
	failReason  string
	outcomes    []storage.TaskOutcome
	finishErr   error
	markRunErr  error
	bulkFailErr error
}

func (f *fakeTaskRepo) Create(ctx context.Context, task *models.TaskInstance) error { return nil }
func (f *fakeTaskRepo) Get(ctx context.Context, id int64) (*models.TaskInstance, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeTaskRepo) GetByNode(ctx context.Context, workflowInstanceID int64, nodeID string) (*models.TaskInstance, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeTaskRepo) ListByWorkflow(ctx context.Context, workflowInstanceID int64) ([]*models.TaskInstance, error) {
	return nil, nil
}
func (f *fakeTaskRepo) CountCompleted(ctx context.Context, workflowInstanceID int64) (int64, error) {
	return 0, nil
}
func (f *fakeTaskRepo) CountCompletedByNodes(ctx context.Context, workflowInstanceID int64, nodeIDs []string) (int64, error) {
	return 0, nil
}
func (f *fakeTaskRepo) BulkMarkQueued(ctx context.Context, ids []int64) error { return nil }

func (f *fakeTaskRepo) BulkMarkRunning(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markRunErr != nil {
		return f.markRunErr
	}
	f.running = append(f.running, ids...)
	return nil
}

func (f *fakeTaskRepo) BulkFail(ctx context.Context, ids []int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkFailErr != nil {
		return f.bulkFailErr
	}
	f.failed = append(f.failed, ids...)
	f.failReason = errMsg
	return nil
}

func (f *fakeTaskRepo) FinishBatch(ctx context.Context, outcomes []storage.TaskOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	f.outcomes = append(f.outcomes, outcomes...)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.SchedulerEvent
	queues []string
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, queue)
	f.events = append(f.events, payload.(models.SchedulerEvent))
	return nil
}

type fakeBackend struct {
	agentType models.AgentType
	result    Result
	delay     time.Duration
	blockCtx  bool
}

func (f *fakeBackend) Type() models.AgentType { return f.agentType }

func (f *fakeBackend) Execute(ctx context.Context, groupID string, task models.GroupTask) Result {
	if f.blockCtx {
		<-ctx.Done()
		return Result{Status: StatusFailed, Error: "cancelled"}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result
}

func newTestExecutor(repo *fakeTaskRepo, pub *fakePublisher, opts ...Option) *GroupExecutor {
	return NewGroupExecutor(repo, pub, zerolog.Nop(), opts...)
}

func wasmTask(id int64) models.GroupTask {
	return models.GroupTask{
		TaskInstanceID:  id,
		Type:            models.AgentWASM,
		SourceReference: "/modules/test.wasm",
		Params:          models.TaskParams{InputParams: map[string]interface{}{"x": float64(1)}},
	}
}

func TestExecuteGroupAllSucceed(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{
		agentType: models.AgentWASM,
		result:    Result{Status: StatusSuccess, Output: map[string]interface{}{"ok": true}},
	})

	group := models.TaskGroup{GroupID: "grp_abc", Tasks: []models.GroupTask{wasmTask(1), wasmTask(2)}}
	require.NoError(t, exec.ExecuteGroup(context.Background(), group))

	assert.ElementsMatch(t, []int64{1, 2}, repo.running)
	require.Len(t, repo.outcomes, 2)
	for _, o := range repo.outcomes {
		assert.Equal(t, models.TaskCompleted, o.Status)
		assert.Equal(t, map[string]interface{}{"ok": true}, o.Outputs)
	}

	require.Len(t, pub.events, 2)
	for i, ev := range pub.events {
		assert.Equal(t, bus.SchedulerQueue, pub.queues[i])
		assert.Equal(t, models.EventTaskCompleted, ev.EventType)
	}
}

func TestExecuteGroupMixedOutcomes(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{
		agentType: models.AgentWASM,
		result:    Result{Status: StatusFailed, Error: "module trapped"},
	})
	exec.RegisterBackend(&fakeBackend{
		agentType: models.AgentDocker,
		result:    Result{Status: StatusSuccess, Output: map[string]interface{}{"logs": "ok"}},
	})

	group := models.TaskGroup{GroupID: "grp_mix", Tasks: []models.GroupTask{
		wasmTask(10),
		{TaskInstanceID: 11, Type: models.AgentDocker, SourceReference: "alpine:3"},
	}}
	require.NoError(t, exec.ExecuteGroup(context.Background(), group))

	require.Len(t, repo.outcomes, 2)
	assert.Equal(t, models.TaskFailed, repo.outcomes[0].Status)
	assert.Equal(t, "module trapped", repo.outcomes[0].Logs)
	assert.Equal(t, models.TaskCompleted, repo.outcomes[1].Status)

	require.Len(t, pub.events, 2)
	assert.Equal(t, models.EventTaskFailed, pub.events[0].EventType)
	assert.Equal(t, "module trapped", pub.events[0].Error)
	assert.Equal(t, models.EventTaskCompleted, pub.events[1].EventType)
}

func TestExecuteGroupUnsupportedAgentType(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)

	group := models.TaskGroup{GroupID: "grp_unk", Tasks: []models.GroupTask{
		{TaskInstanceID: 5, Type: models.AgentType("GPU"), SourceReference: "whatever"},
	}}
	require.NoError(t, exec.ExecuteGroup(context.Background(), group))

	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, models.TaskFailed, repo.outcomes[0].Status)
	assert.Contains(t, repo.outcomes[0].Logs, "Unsupported agent type")

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventTaskFailed, pub.events[0].EventType)
}

func TestExecuteGroupEmpty(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)

	require.NoError(t, exec.ExecuteGroup(context.Background(), models.TaskGroup{GroupID: "grp_empty"}))
	assert.Empty(t, repo.running)
	assert.Empty(t, repo.outcomes)
	assert.Empty(t, pub.events)
}

func TestExecuteGroupRunsTasksConcurrently(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{
		agentType: models.AgentWASM,
		result:    Result{Status: StatusSuccess},
		delay:     100 * time.Millisecond,
	})

	group := models.TaskGroup{GroupID: "grp_par", Tasks: []models.GroupTask{
		wasmTask(1), wasmTask(2), wasmTask(3), wasmTask(4),
	}}

	start := time.Now()
	require.NoError(t, exec.ExecuteGroup(context.Background(), group))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 350*time.Millisecond, "tasks should run in parallel, not sequentially")
	assert.Len(t, repo.outcomes, 4)
}

func TestExecuteGroupSoftTimeout(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub, WithSoftTimeout(50*time.Millisecond))
	exec.RegisterBackend(&fakeBackend{agentType: models.AgentWASM, blockCtx: true})

	group := models.TaskGroup{GroupID: "grp_slow", Tasks: []models.GroupTask{wasmTask(7), wasmTask(8)}}

	// Timed-out groups are failed and acked, not redelivered.
	require.NoError(t, exec.ExecuteGroup(context.Background(), group))

	assert.ElementsMatch(t, []int64{7, 8}, repo.failed)
	assert.Equal(t, "Task group timed out.", repo.failReason)
	assert.Empty(t, repo.outcomes)

	require.Len(t, pub.events, 2)
	for _, ev := range pub.events {
		assert.Equal(t, models.EventTaskFailed, ev.EventType)
		assert.Equal(t, "Task group timed out.", ev.Error)
	}
}

func TestExecuteGroupPersistFailure(t *testing.T) {
	repo := &fakeTaskRepo{finishErr: errors.New("db down")}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{agentType: models.AgentWASM, result: Result{Status: StatusSuccess}})

	group := models.TaskGroup{GroupID: "grp_db", Tasks: []models.GroupTask{wasmTask(3)}}

	err := exec.ExecuteGroup(context.Background(), group)
	require.Error(t, err, "infrastructure failures must surface for redelivery")

	assert.Equal(t, []int64{3}, repo.failed)
	require.Len(t, pub.events, 1)
	assert.Equal(t, models.EventTaskFailed, pub.events[0].EventType)
}

func TestExecuteGroupMarkRunningFailure(t *testing.T) {
	repo := &fakeTaskRepo{markRunErr: errors.New("db down")}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{agentType: models.AgentWASM, result: Result{Status: StatusSuccess}})

	group := models.TaskGroup{GroupID: "grp_mr", Tasks: []models.GroupTask{wasmTask(9)}}
	require.Error(t, exec.ExecuteGroup(context.Background(), group))
	assert.Empty(t, repo.outcomes)
}

func TestHandleMessageMalformed(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)

	// Garbage payloads are dropped, not retried forever.
	require.NoError(t, exec.HandleMessage(context.Background(), []byte("not json")))
	assert.Empty(t, repo.running)
}

func TestHandleMessageDecodesGroup(t *testing.T) {
	repo := &fakeTaskRepo{}
	pub := &fakePublisher{}
	exec := newTestExecutor(repo, pub)
	exec.RegisterBackend(&fakeBackend{agentType: models.AgentWASM, result: Result{Status: StatusSuccess}})

	payload := []byte(`{"group_id":"grp_wire","tasks":[{"task_instance_id":42,"type":"WASM","source_reference":"/m.wasm","params":{"input_params":{"a":1}}}]}`)
	require.NoError(t, exec.HandleMessage(context.Background(), payload))

	assert.Equal(t, []int64{42}, repo.running)
	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, models.TaskCompleted, repo.outcomes[0].Status)
}
