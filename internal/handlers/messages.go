package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/messages"
)

// MessagesHandler carries inter-agent messages inside a group.
type MessagesHandler struct {
	service *messages.Service
	logger  *slog.Logger
}

func NewMessagesHandler(log *slog.Logger, service *messages.Service) *MessagesHandler {
	return &MessagesHandler{service: service, logger: log.With(slog.String("handler", "messages"))}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/agent_messages")
	g.POST("", h.SendMessage)
	g.GET("", h.ListMessages)
	g.GET("/:id", h.GetMessage)
	g.GET("/:id/responses", h.ListResponses)
	g.POST("/:id/read", h.MarkRead)
}

// SendMessage godoc
// @Summary Send a message between agents
// @Description Omitting to_agent_id broadcasts to the group. The sender needs a relationship that permits the message type.
// @Tags messages
// @Param payload body messages.SendRequest true "Message"
// @Success 201 {object} store.AgentMessage
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_messages [post]
func (h *MessagesHandler) SendMessage(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req messages.SendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Send(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListMessages godoc
// @Summary List messages
// @Description With agent_id only messages that agent can read are returned; unread further restricts to ones it has not marked read.
// @Tags messages
// @Param group_id query string false "Group"
// @Param task_id query string false "Task"
// @Param agent_id query string false "Reading agent"
// @Param unread query bool false "Only unread messages for agent_id"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} messages.ListResponse
// @Failure 400 {object} ErrorResponse
// @Router /agent_messages [get]
func (h *MessagesHandler) ListMessages(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var q messages.ListQuery
	if q.GroupID, err = queryUUID(c, "group_id"); err != nil {
		return err
	}
	if q.TaskID, err = queryUUID(c, "task_id"); err != nil {
		return err
	}
	if q.AgentID, err = queryUUID(c, "agent_id"); err != nil {
		return err
	}
	if q.UnreadOnly, err = queryBool(c, "unread"); err != nil {
		return err
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), tenantID, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messages.ListResponse{Items: items})
}

// GetMessage godoc
// @Summary Get a message
// @Tags messages
// @Param id path string true "Message ID"
// @Success 200 {object} store.AgentMessage
// @Failure 404 {object} ErrorResponse
// @Router /agent_messages/{id} [get]
func (h *MessagesHandler) GetMessage(c echo.Context) error {
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

// ListResponses godoc
// @Summary List the responses to a request message
// @Tags messages
// @Param id path string true "Request message ID"
// @Success 200 {object} messages.ListResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_messages/{id}/responses [get]
func (h *MessagesHandler) ListResponses(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.service.Responses(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messages.ListResponse{Items: items})
}

// MarkRead godoc
// @Summary Mark a message read by an agent
// @Tags messages
// @Param id path string true "Message ID"
// @Param payload body messages.MarkReadRequest true "Reader"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /agent_messages/{id}/read [post]
func (h *MessagesHandler) MarkRead(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req messages.MarkReadRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.service.MarkRead(c.Request().Context(), tenantID, id, req.AgentID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
