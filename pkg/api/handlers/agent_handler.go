package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/dto"
	"github.com/netbase/engine/pkg/api/middleware"
)

// AgentHandler handles agent-related HTTP requests
type AgentHandler struct {
	agents storage.AgentRepository
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agents storage.AgentRepository) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// CreateAgent handles POST /api/v1/agents
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	var req dto.CreateAgentRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	agent := req.ToAgent()
	if err := h.agents.Create(c.Request.Context(), agent); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			middleware.AbortWithError(c, http.StatusConflict, "AGENT_EXISTS", "An agent with this name already exists")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, dto.ToAgentResponse(agent))
}

// GetAgent handles GET /api/v1/agents/:id
func (h *AgentHandler) GetAgent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_ID", "agent id must be an integer")
		return
	}

	agent, err := h.agents.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "GET_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.ToAgentResponse(agent))
}

// ListAgents handles GET /api/v1/agents
func (h *AgentHandler) ListAgents(c *gin.Context) {
	page, pageSize := pagination(c)

	agents, err := h.agents.List(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	responses := make([]dto.AgentResponse, len(agents))
	for i, a := range agents {
		responses[i] = dto.ToAgentResponse(a)
	}

	c.JSON(http.StatusOK, dto.AgentListResponse{
		Agents:     responses,
		Pagination: dto.PaginationMeta{Page: page, PageSize: pageSize, Count: len(responses)},
	})
}

func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
