package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/groups"
)

// GroupsHandler manages agent groups, their members and the relationship
// graph between members.
type GroupsHandler struct {
	service *groups.Service
	logger  *slog.Logger
}

func NewGroupsHandler(log *slog.Logger, service *groups.Service) *GroupsHandler {
	return &GroupsHandler{service: service, logger: log.With(slog.String("handler", "groups"))}
}

func (h *GroupsHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/agent_groups")
	g.POST("", h.CreateGroup)
	g.GET("", h.ListGroups)
	g.GET("/:id", h.GetGroup)
	g.PUT("/:id", h.UpdateGroup)
	g.DELETE("/:id", h.DeleteGroup)
	g.POST("/:id/members", h.AddMember)
	g.GET("/:id/members", h.ListMembers)
	g.DELETE("/:id/members/:agent_id", h.RemoveMember)

	r := e.Group(apiPrefix + "/agent_relationships")
	r.POST("", h.CreateRelationship)
	r.GET("", h.ListRelationships)
	r.GET("/:id", h.GetRelationship)
	r.PUT("/:id", h.UpdateRelationship)
	r.DELETE("/:id", h.DeleteRelationship)
}

// CreateGroup godoc
// @Summary Create an agent group
// @Tags groups
// @Param payload body groups.CreateRequest true "Group"
// @Success 201 {object} store.AgentGroup
// @Failure 400 {object} ErrorResponse
// @Router /agent_groups [post]
func (h *GroupsHandler) CreateGroup(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req groups.CreateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Create(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListGroups godoc
// @Summary List agent groups
// @Tags groups
// @Success 200 {object} groups.ListResponse
// @Router /agent_groups [get]
func (h *GroupsHandler) ListGroups(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups.ListResponse{Items: items})
}

// GetGroup godoc
// @Summary Get an agent group
// @Tags groups
// @Param id path string true "Group ID"
// @Success 200 {object} store.AgentGroup
// @Failure 404 {object} ErrorResponse
// @Router /agent_groups/{id} [get]
func (h *GroupsHandler) GetGroup(c echo.Context) error {
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

// UpdateGroup godoc
// @Summary Update an agent group
// @Tags groups
// @Param id path string true "Group ID"
// @Param payload body groups.UpdateRequest true "Changes"
// @Success 200 {object} store.AgentGroup
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_groups/{id} [put]
func (h *GroupsHandler) UpdateGroup(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req groups.UpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Update(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteGroup godoc
// @Summary Delete an agent group
// @Tags groups
// @Param id path string true "Group ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agent_groups/{id} [delete]
func (h *GroupsHandler) DeleteGroup(c echo.Context) error {
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

// AddMember godoc
// @Summary Add an agent to a group
// @Tags groups
// @Param id path string true "Group ID"
// @Param payload body groups.AddMemberRequest true "Member"
// @Success 201 {object} store.GroupMember
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agent_groups/{id}/members [post]
func (h *GroupsHandler) AddMember(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	groupID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req groups.AddMemberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.AddMember(c.Request().Context(), tenantID, groupID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListMembers godoc
// @Summary List group members
// @Tags groups
// @Param id path string true "Group ID"
// @Success 200 {object} groups.ListMembersResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_groups/{id}/members [get]
func (h *GroupsHandler) ListMembers(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	groupID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.service.ListMembers(c.Request().Context(), tenantID, groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups.ListMembersResponse{Items: items})
}

// RemoveMember godoc
// @Summary Remove an agent from a group
// @Tags groups
// @Param id path string true "Group ID"
// @Param agent_id path string true "Agent ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agent_groups/{id}/members/{agent_id} [delete]
func (h *GroupsHandler) RemoveMember(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	groupID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	agentID, err := pathUUID(c, "agent_id")
	if err != nil {
		return err
	}
	if err := h.service.RemoveMember(c.Request().Context(), tenantID, groupID, agentID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateRelationship godoc
// @Summary Create a directed relationship between two group members
// @Tags groups
// @Param payload body groups.CreateRelationshipRequest true "Relationship"
// @Success 201 {object} store.AgentRelationship
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_relationships [post]
func (h *GroupsHandler) CreateRelationship(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req groups.CreateRelationshipRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.CreateRelationship(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListRelationships godoc
// @Summary List relationships
// @Tags groups
// @Param group_id query string false "Filter by group"
// @Success 200 {object} groups.ListRelationshipsResponse
// @Router /agent_relationships [get]
func (h *GroupsHandler) ListRelationships(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	groupID, err := queryUUID(c, "group_id")
	if err != nil {
		return err
	}
	items, err := h.service.ListRelationships(c.Request().Context(), tenantID, groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups.ListRelationshipsResponse{Items: items})
}

// GetRelationship godoc
// @Summary Get a relationship
// @Tags groups
// @Param id path string true "Relationship ID"
// @Success 200 {object} store.AgentRelationship
// @Failure 404 {object} ErrorResponse
// @Router /agent_relationships/{id} [get]
func (h *GroupsHandler) GetRelationship(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.service.GetRelationship(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateRelationship godoc
// @Summary Update a relationship
// @Tags groups
// @Param id path string true "Relationship ID"
// @Param payload body groups.UpdateRelationshipRequest true "Changes"
// @Success 200 {object} store.AgentRelationship
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_relationships/{id} [put]
func (h *GroupsHandler) UpdateRelationship(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req groups.UpdateRelationshipRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.UpdateRelationship(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteRelationship godoc
// @Summary Delete a relationship
// @Tags groups
// @Param id path string true "Relationship ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agent_relationships/{id} [delete]
func (h *GroupsHandler) DeleteRelationship(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.DeleteRelationship(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
