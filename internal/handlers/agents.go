package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/agents"
)

// AgentsHandler manages agents and their learned skills.
type AgentsHandler struct {
	service *agents.Service
	logger  *slog.Logger
}

func NewAgentsHandler(log *slog.Logger, service *agents.Service) *AgentsHandler {
	return &AgentsHandler{service: service, logger: log.With(slog.String("handler", "agents"))}
}

func (h *AgentsHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/agents")
	g.POST("", h.CreateAgent)
	g.GET("", h.ListAgents)
	g.GET("/:id", h.GetAgent)
	g.PUT("/:id", h.UpdateAgent)
	g.DELETE("/:id", h.DeleteAgent)

	s := e.Group(apiPrefix + "/agent_skills")
	s.POST("", h.CreateSkill)
	s.GET("", h.ListSkills)
	s.GET("/:id", h.GetSkill)
	s.PUT("/:id", h.UpdateSkill)
	s.DELETE("/:id", h.DeleteSkill)
}

// CreateAgent godoc
// @Summary Create an agent
// @Tags agents
// @Param payload body agents.CreateRequest true "Agent"
// @Success 201 {object} store.Agent
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agents [post]
func (h *AgentsHandler) CreateAgent(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req agents.CreateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Create(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListAgents godoc
// @Summary List agents
// @Tags agents
// @Success 200 {object} agents.ListResponse
// @Router /agents [get]
func (h *AgentsHandler) ListAgents(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agents.ListResponse{Items: items})
}

// GetAgent godoc
// @Summary Get an agent
// @Tags agents
// @Param id path string true "Agent ID"
// @Success 200 {object} store.Agent
// @Failure 404 {object} ErrorResponse
// @Router /agents/{id} [get]
func (h *AgentsHandler) GetAgent(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.service.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateAgent godoc
// @Summary Update an agent
// @Description Only the fields present in the body are changed
// @Tags agents
// @Param id path string true "Agent ID"
// @Param payload body agents.UpdateRequest true "Changes"
// @Success 200 {object} store.Agent
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agents/{id} [put]
func (h *AgentsHandler) UpdateAgent(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req agents.UpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Update(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteAgent godoc
// @Summary Delete an agent
// @Tags agents
// @Param id path string true "Agent ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agents/{id} [delete]
func (h *AgentsHandler) DeleteAgent(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateSkill godoc
// @Summary Record a skill for an agent
// @Tags agents
// @Param payload body agents.CreateSkillRequest true "Agent skill"
// @Success 201 {object} store.AgentSkill
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agent_skills [post]
func (h *AgentsHandler) CreateSkill(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req agents.CreateSkillRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.CreateSkill(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListSkills godoc
// @Summary List agent skills
// @Tags agents
// @Param agent_id query string false "Filter by agent"
// @Success 200 {object} agents.ListSkillsResponse
// @Router /agent_skills [get]
func (h *AgentsHandler) ListSkills(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	agentID, err := queryUUID(c, "agent_id")
	if err != nil {
		return err
	}
	items, err := h.service.ListSkills(c.Request().Context(), tenantID, agentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agents.ListSkillsResponse{Items: items})
}

// GetSkill godoc
// @Summary Get an agent skill
// @Tags agents
// @Param id path string true "Agent skill ID"
// @Success 200 {object} store.AgentSkill
// @Failure 404 {object} ErrorResponse
// @Router /agent_skills/{id} [get]
func (h *AgentsHandler) GetSkill(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.service.GetSkill(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateSkill godoc
// @Summary Update an agent skill
// @Tags agents
// @Param id path string true "Agent skill ID"
// @Param payload body agents.UpdateSkillRequest true "Changes"
// @Success 200 {object} store.AgentSkill
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_skills/{id} [put]
func (h *AgentsHandler) UpdateSkill(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req agents.UpdateSkillRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.UpdateSkill(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteSkill godoc
// @Summary Delete an agent skill
// @Tags agents
// @Param id path string true "Agent skill ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agent_skills/{id} [delete]
func (h *AgentsHandler) DeleteSkill(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.DeleteSkill(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
