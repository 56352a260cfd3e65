package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/dto"
	"github.com/netbase/engine/pkg/api/middleware"
	"github.com/netbase/engine/pkg/models"
)

// WorkflowHandler handles workflow instance HTTP requests
type WorkflowHandler struct {
	templates storage.TemplateRepository
	workflows storage.WorkflowRepository
	tasks     storage.TaskRepository
	publisher bus.Publisher
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(
	templates storage.TemplateRepository,
	workflows storage.WorkflowRepository,
	tasks storage.TaskRepository,
	publisher bus.Publisher,
) *WorkflowHandler {
	return &WorkflowHandler{
		templates: templates,
		workflows: workflows,
		tasks:     tasks,
		publisher: publisher,
	}
}

// TriggerWorkflow handles POST /api/v1/templates/:id/trigger. The template's
// definition is snapshotted onto the new instance, so later template edits
// never affect this run.
func (h *WorkflowHandler) TriggerWorkflow(c *gin.Context) {
	templateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_ID", "template id must be an integer")
		return
	}

	var req dto.TriggerWorkflowRequest
	if c.Request.ContentLength > 0 {
		if !middleware.BindAndValidate(c, &req) {
			return
		}
	}

	tmpl, err := h.templates.Get(c.Request.Context(), templateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "TRIGGER_FAILED", err.Error())
		return
	}

	instance := &models.WorkflowInstance{
		TemplateID:    tmpl.ID,
		DAGDefinition: tmpl.DAGDefinition,
		Status:        models.WorkflowQueued,
		Priority:      req.Priority,
		Inputs:        req.Inputs,
	}
	if err := h.workflows.Create(c.Request.Context(), instance); err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "TRIGGER_FAILED", err.Error())
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), bus.SchedulerQueue,
		models.StartWorkflowEvent(instance.ID)); err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "PUBLISH_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.ToWorkflowResponse(instance))
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_ID", "workflow id must be an integer")
		return
	}

	wf, err := h.workflows.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "Workflow instance not found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "GET_FAILED", err.Error())
		return
	}

	tasks, err := h.tasks.ListByWorkflow(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "GET_FAILED", err.Error())
		return
	}

	resp := dto.WorkflowDetailResponse{
		WorkflowResponse: dto.ToWorkflowResponse(wf),
		Tasks:            make([]dto.TaskResponse, len(tasks)),
	}
	for i, t := range tasks {
		resp.Tasks[i] = dto.ToTaskResponse(t)
	}

	c.JSON(http.StatusOK, resp)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	page, pageSize := pagination(c)

	workflows, err := h.workflows.List(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	responses := make([]dto.WorkflowResponse, len(workflows))
	for i, w := range workflows {
		responses[i] = dto.ToWorkflowResponse(w)
	}

	c.JSON(http.StatusOK, dto.WorkflowListResponse{
		Workflows:  responses,
		Pagination: dto.PaginationMeta{Page: page, PageSize: pageSize, Count: len(responses)},
	})
}
