package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/tasks"
)

// TasksHandler drives the task lifecycle.
type TasksHandler struct {
	orchestrator *tasks.Orchestrator
	logger       *slog.Logger
}

type traceResponse struct {
	Items []store.ExecutionTrace `json:"items"`
}

func NewTasksHandler(log *slog.Logger, orchestrator *tasks.Orchestrator) *TasksHandler {
	return &TasksHandler{orchestrator: orchestrator, logger: log.With(slog.String("handler", "tasks"))}
}

func (h *TasksHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/agent_tasks")
	g.POST("", h.CreateTask)
	g.GET("", h.ListTasks)
	g.GET("/:id", h.GetTask)
	g.PATCH("/:id", h.UpdateTask)
	g.POST("/:id/approve", h.ApproveTask)
	g.POST("/:id/delegate", h.DelegateTask)
	g.GET("/:id/subtasks", h.ListSubtasks)
	g.GET("/:id/trace", h.GetTrace)
}

// CreateTask godoc
// @Summary Create a task
// @Description The task starts pending. Tasks for approval_required agents must be approved before they run.
// @Tags tasks
// @Param payload body tasks.CreateRequest true "Task"
// @Success 201 {object} store.AgentTask
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_tasks [post]
func (h *TasksHandler) CreateTask(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	var req tasks.CreateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.CreatedByUserID = &p.User.ID
	resp, err := h.orchestrator.Create(c.Request().Context(), p.TenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListTasks godoc
// @Summary List tasks
// @Tags tasks
// @Param status query string false "Task status"
// @Param assigned_agent_id query string false "Assigned agent"
// @Param group_id query string false "Group"
// @Param parent_task_id query string false "Parent task"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} tasks.ListResponse
// @Failure 400 {object} ErrorResponse
// @Router /agent_tasks [get]
func (h *TasksHandler) ListTasks(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	q := tasks.ListQuery{Status: store.TaskStatus(c.QueryParam("status"))}
	if q.AssignedAgentID, err = queryUUID(c, "assigned_agent_id"); err != nil {
		return err
	}
	if q.GroupID, err = queryUUID(c, "group_id"); err != nil {
		return err
	}
	if q.ParentTaskID, err = queryUUID(c, "parent_task_id"); err != nil {
		return err
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return err
	}
	items, err := h.orchestrator.List(c.Request().Context(), tenantID, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks.ListResponse{Items: items})
}

// GetTask godoc
// @Summary Get a task
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} store.AgentTask
// @Failure 404 {object} ErrorResponse
// @Router /agent_tasks/{id} [get]
func (h *TasksHandler) GetTask(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.orchestrator.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateTask godoc
// @Summary Update a task
// @Description Applies progress fields, then the status transition named by status. Terminal tasks reject every change.
// @Tags tasks
// @Param id path string true "Task ID"
// @Param payload body tasks.UpdateRequest true "Changes"
// @Success 200 {object} store.AgentTask
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agent_tasks/{id} [patch]
func (h *TasksHandler) UpdateTask(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req tasks.UpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	req.ApprovedByUserID = &p.User.ID
	resp, err := h.orchestrator.Update(c.Request().Context(), p.TenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ApproveTask godoc
// @Summary Approve a pending task
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} store.AgentTask
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agent_tasks/{id}/approve [post]
func (h *TasksHandler) ApproveTask(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.orchestrator.Approve(c.Request().Context(), p.TenantID, id, &p.User.ID)
	if err != nil {
		return err
	}
	h.logger.Info("task approved", slog.String("task_id", id.String()), slog.String("user_id", p.User.ID.String()))
	return c.JSON(http.StatusOK, resp)
}

// DelegateTask godoc
// @Summary Delegate part of a task to another agent
// @Description Creates a subtask. The parent's agent must be allowed to delegate to the target within the parent's group.
// @Tags tasks
// @Param id path string true "Parent task ID"
// @Param payload body tasks.DelegateRequest true "Subtask"
// @Success 201 {object} store.AgentTask
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /agent_tasks/{id}/delegate [post]
func (h *TasksHandler) DelegateTask(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req tasks.DelegateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.orchestrator.Delegate(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListSubtasks godoc
// @Summary List direct subtasks
// @Description Ordered by completed_at, then id
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} tasks.ListResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_tasks/{id}/subtasks [get]
func (h *TasksHandler) ListSubtasks(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.orchestrator.Subtasks(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks.ListResponse{Items: items})
}

// GetTrace godoc
// @Summary Get the execution trace of a task
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} traceResponse
// @Failure 404 {object} ErrorResponse
// @Router /agent_tasks/{id}/trace [get]
func (h *TasksHandler) GetTrace(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.orchestrator.Trace(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, traceResponse{Items: items})
}
