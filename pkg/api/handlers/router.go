package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/dto"
	"github.com/netbase/engine/pkg/api/middleware"
)

// Repositories bundles the storage interfaces the API serves.
type Repositories struct {
	Agents    storage.AgentRepository
	Templates storage.TemplateRepository
	Workflows storage.WorkflowRepository
	Tasks     storage.TaskRepository
}

// NewRouter builds the API engine with all routes and middleware attached.
func NewRouter(repos Repositories, publisher bus.Publisher, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
	})

	agentHandler := NewAgentHandler(repos.Agents)
	templateHandler := NewTemplateHandler(repos.Templates, repos.Agents)
	workflowHandler := NewWorkflowHandler(repos.Templates, repos.Workflows, repos.Tasks, publisher)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/agents", agentHandler.CreateAgent)
		v1.GET("/agents", agentHandler.ListAgents)
		v1.GET("/agents/:id", agentHandler.GetAgent)

		v1.POST("/templates", templateHandler.CreateTemplate)
		v1.GET("/templates", templateHandler.ListTemplates)
		v1.GET("/templates/:id", templateHandler.GetTemplate)
		v1.POST("/templates/:id/trigger", workflowHandler.TriggerWorkflow)

		v1.GET("/workflows", workflowHandler.ListWorkflows)
		v1.GET("/workflows/:id", workflowHandler.GetWorkflow)
	}

	return router
}
