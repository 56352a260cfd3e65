package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/netbase/engine/internal/dag"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/dto"
	"github.com/netbase/engine/pkg/api/middleware"
)

// TemplateHandler handles DAG template HTTP requests
type TemplateHandler struct {
	templates storage.TemplateRepository
	agents    storage.AgentRepository
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(templates storage.TemplateRepository, agents storage.AgentRepository) *TemplateHandler {
	return &TemplateHandler{templates: templates, agents: agents}
}

// CreateTemplate handles POST /api/v1/templates
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	tmpl := req.ToTemplate()

	// Reject structurally broken definitions up front; the scheduler would
	// only fail the instance at start time otherwise.
	if dag.IsCyclic(&tmpl.DAGDefinition) {
		middleware.AbortWithError(c, http.StatusBadRequest, "CYCLIC_DAG", "dag definition contains a cycle")
		return
	}
	if len(dag.StartNodes(&tmpl.DAGDefinition)) == 0 {
		middleware.AbortWithError(c, http.StatusBadRequest, "NO_START_NODES", "dag definition has no start nodes")
		return
	}
	for _, node := range tmpl.DAGDefinition.Nodes {
		if _, err := h.agents.Get(c.Request.Context(), node.Data.AgentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.AbortWithError(c, http.StatusBadRequest, "UNKNOWN_AGENT",
					"node "+node.ID+" references an unknown agent")
				return
			}
			middleware.AbortWithError(c, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
			return
		}
	}

	if err := h.templates.Create(c.Request.Context(), tmpl); err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.ToTemplateResponse(tmpl))
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_ID", "template id must be an integer")
		return
	}

	tmpl, err := h.templates.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "GET_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.ToTemplateResponse(tmpl))
}

// ListTemplates handles GET /api/v1/templates
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	page, pageSize := pagination(c)

	templates, err := h.templates.List(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	responses := make([]dto.TemplateResponse, len(templates))
	for i, t := range templates {
		responses[i] = dto.ToTemplateResponse(t)
	}

	c.JSON(http.StatusOK, dto.TemplateListResponse{
		Templates:  responses,
		Pagination: dto.PaginationMeta{Page: page, PageSize: pageSize, Count: len(responses)},
	})
}
