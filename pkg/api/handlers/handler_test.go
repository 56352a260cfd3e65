package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/dto"
	"github.com/netbase/engine/pkg/models"
)

type stubAgentRepo struct {
	nextID int64
	agents map[int64]*models.Agent
}

func newStubAgentRepo() *stubAgentRepo {
	return &stubAgentRepo{nextID: 1, agents: make(map[int64]*models.Agent)}
}

func (r *stubAgentRepo) Create(ctx context.Context, agent *models.Agent) error {
	agent.ID = r.nextID
	r.nextID++
	r.agents[agent.ID] = agent
	return nil
}

func (r *stubAgentRepo) Get(ctx context.Context, id int64) (*models.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a, nil
}

func (r *stubAgentRepo) GetByName(ctx context.Context, name string) (*models.Agent, error) {
	for _, a := range r.agents {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *stubAgentRepo) List(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out, nil
}

type stubTemplateRepo struct {
	nextID    int64
	templates map[int64]*models.DAGTemplate
}

func newStubTemplateRepo() *stubTemplateRepo {
	return &stubTemplateRepo{nextID: 1, templates: make(map[int64]*models.DAGTemplate)}
}

func (r *stubTemplateRepo) Create(ctx context.Context, tmpl *models.DAGTemplate) error {
	tmpl.ID = r.nextID
	r.nextID++
	r.templates[tmpl.ID] = tmpl
	return nil
}

func (r *stubTemplateRepo) Get(ctx context.Context, id int64) (*models.DAGTemplate, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (r *stubTemplateRepo) List(ctx context.Context, limit, offset int) ([]*models.DAGTemplate, error) {
	var out []*models.DAGTemplate
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out, nil
}

func (r *stubTemplateRepo) ListScheduled(ctx context.Context) ([]*models.DAGTemplate, error) {
	return nil, nil
}

type stubWorkflowRepo struct {
	nextID    int64
	instances map[int64]*models.WorkflowInstance
}

func newStubWorkflowRepo() *stubWorkflowRepo {
	return &stubWorkflowRepo{nextID: 1, instances: make(map[int64]*models.WorkflowInstance)}
}

func (r *stubWorkflowRepo) Create(ctx context.Context, wf *models.WorkflowInstance) error {
	wf.ID = r.nextID
	r.nextID++
	r.instances[wf.ID] = wf
	return nil
}

func (r *stubWorkflowRepo) Get(ctx context.Context, id int64) (*models.WorkflowInstance, error) {
	wf, ok := r.instances[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return wf, nil
}

func (r *stubWorkflowRepo) List(ctx context.Context, limit, offset int) ([]*models.WorkflowInstance, error) {
	var out []*models.WorkflowInstance
	for _, wf := range r.instances {
		out = append(out, wf)
	}
	return out, nil
}

func (r *stubWorkflowRepo) MarkRunning(ctx context.Context, id int64) error   { return nil }
func (r *stubWorkflowRepo) MarkCompleted(ctx context.Context, id int64) error { return nil }
func (r *stubWorkflowRepo) MarkFailed(ctx context.Context, id int64) error    { return nil }

type stubTaskRepo struct{}

func (stubTaskRepo) Create(ctx context.Context, task *models.TaskInstance) error { return nil }
func (stubTaskRepo) Get(ctx context.Context, id int64) (*models.TaskInstance, error) {
	return nil, storage.ErrNotFound
}
func (stubTaskRepo) GetByNode(ctx context.Context, wfID int64, nodeID string) (*models.TaskInstance, error) {
	return nil, storage.ErrNotFound
}
func (stubTaskRepo) ListByWorkflow(ctx context.Context, wfID int64) ([]*models.TaskInstance, error) {
	return nil, nil
}
func (stubTaskRepo) CountCompleted(ctx context.Context, wfID int64) (int64, error) { return 0, nil }
func (stubTaskRepo) CountCompletedByNodes(ctx context.Context, wfID int64, nodeIDs []string) (int64, error) {
	return 0, nil
}
func (stubTaskRepo) BulkMarkQueued(ctx context.Context, ids []int64) error            { return nil }
func (stubTaskRepo) BulkMarkRunning(ctx context.Context, ids []int64) error           { return nil }
func (stubTaskRepo) BulkFail(ctx context.Context, ids []int64, errMsg string) error   { return nil }
func (stubTaskRepo) FinishBatch(ctx context.Context, o []storage.TaskOutcome) error   { return nil }

type recordingPublisher struct {
	queues   []string
	payloads []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, queue string, payload interface{}) error {
	p.queues = append(p.queues, queue)
	p.payloads = append(p.payloads, payload)
	return nil
}

type testAPI struct {
	router    http.Handler
	agents    *stubAgentRepo
	templates *stubTemplateRepo
	workflows *stubWorkflowRepo
	pub       *recordingPublisher
}

func newTestAPI() *testAPI {
	agents := newStubAgentRepo()
	templates := newStubTemplateRepo()
	workflows := newStubWorkflowRepo()
	pub := &recordingPublisher{}
	router := NewRouter(Repositories{
		Agents:    agents,
		Templates: templates,
		Workflows: workflows,
		Tasks:     stubTaskRepo{},
	}, pub, zerolog.Nop())
	return &testAPI{router: router, agents: agents, templates: templates, workflows: workflows, pub: pub}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedAgent(t *testing.T) int64 {
	t.Helper()
	agent := &models.Agent{Name: "extract", Type: models.AgentWASM, SourceReference: "/modules/extract.wasm"}
	require.NoError(t, a.agents.Create(context.Background(), agent))
	return agent.ID
}

func TestCreateAgent(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodPost, "/api/v1/agents", dto.CreateAgentRequest{
		Name:            "extract",
		Type:            "WASM",
		SourceReference: "/modules/extract.wasm",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp dto.AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, "WASM", resp.Type)
}

func TestCreateAgentRejectsUnknownType(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodPost, "/api/v1/agents", dto.CreateAgentRequest{
		Name:            "weird",
		Type:            "GPU",
		SourceReference: "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAgentNotFound(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, http.MethodGet, "/api/v1/agents/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTemplateRejectsCycle(t *testing.T) {
	api := newTestAPI()
	agentID := api.seedAgent(t)

	rec := api.do(t, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		Name: "cyclic",
		DAGDefinition: dto.DAGDefinitionDTO{
			Nodes: []dto.NodeDTO{
				{ID: "A", Data: dto.NodeDataDTO{AgentID: agentID}},
				{ID: "B", Data: dto.NodeDataDTO{AgentID: agentID}},
			},
			Edges: []dto.EdgeDTO{{From: "A", To: "B"}, {From: "B", To: "A"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CYCLIC_DAG")
}

func TestCreateTemplateRejectsUnknownAgent(t *testing.T) {
	api := newTestAPI()

	rec := api.do(t, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		Name: "bad-agent",
		DAGDefinition: dto.DAGDefinitionDTO{
			Nodes: []dto.NodeDTO{{ID: "A", Data: dto.NodeDataDTO{AgentID: 777}}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_AGENT")
}

func TestCreateTemplateRejectsBadSchedule(t *testing.T) {
	api := newTestAPI()
	agentID := api.seedAgent(t)

	rec := api.do(t, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		Name:     "bad-cron",
		Schedule: "not a cron",
		DAGDefinition: dto.DAGDefinitionDTO{
			Nodes: []dto.NodeDTO{{ID: "A", Data: dto.NodeDataDTO{AgentID: agentID}}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerWorkflowSnapshotsAndPublishes(t *testing.T) {
	api := newTestAPI()
	agentID := api.seedAgent(t)

	rec := api.do(t, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		Name: "etl",
		DAGDefinition: dto.DAGDefinitionDTO{
			Nodes: []dto.NodeDTO{{ID: "A", Data: dto.NodeDataDTO{AgentID: agentID}}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tmpl dto.TemplateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/trigger", tmpl.ID),
		dto.TriggerWorkflowRequest{Inputs: map[string]interface{}{"source": "s3://bucket"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var wf dto.WorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, string(models.WorkflowQueued), wf.Status)

	require.Len(t, api.pub.payloads, 1)
	assert.Equal(t, bus.SchedulerQueue, api.pub.queues[0])
	ev := api.pub.payloads[0].(models.SchedulerEvent)
	assert.Equal(t, models.EventStartWorkflow, ev.EventType)
	assert.Equal(t, wf.ID, ev.InstanceID)

	stored, err := api.workflows.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Len(t, stored.DAGDefinition.Nodes, 1)
}

func TestTriggerUnknownTemplate(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, http.MethodPost, "/api/v1/templates/404/trigger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, api.pub.payloads)
}

func TestGetWorkflowNotFound(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, http.MethodGet, "/api/v1/workflows/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI()
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
