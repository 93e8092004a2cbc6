package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/instances"
)

// InstancesHandler registers tenant skill runtimes and records their health.
type InstancesHandler struct {
	service *instances.Service
	logger  *slog.Logger
}

func NewInstancesHandler(log *slog.Logger, service *instances.Service) *InstancesHandler {
	return &InstancesHandler{service: service, logger: log.With(slog.String("handler", "instances"))}
}

func (h *InstancesHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/tenant_instances")
	g.POST("", h.RegisterInstance)
	g.GET("", h.ListInstances)
	g.GET("/:id", h.GetInstance)
	g.PUT("/:id/status", h.SetStatus)
	g.POST("/:id/health", h.ReportHealth)
}

// RegisterInstance godoc
// @Summary Register a tenant instance
// @Tags instances
// @Param payload body instances.RegisterRequest true "Instance"
// @Success 201 {object} store.TenantInstance
// @Failure 400 {object} ErrorResponse
// @Router /tenant_instances [post]
func (h *InstancesHandler) RegisterInstance(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req instances.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Register(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	h.logger.Info("instance registered",
		slog.String("tenant_id", tenantID.String()),
		slog.String("instance_id", resp.ID.String()),
	)
	return c.JSON(http.StatusCreated, resp)
}

// ListInstances godoc
// @Summary List tenant instances
// @Tags instances
// @Success 200 {object} instances.ListResponse
// @Router /tenant_instances [get]
func (h *InstancesHandler) ListInstances(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instances.ListResponse{Items: items})
}

// GetInstance godoc
// @Summary Get a tenant instance
// @Tags instances
// @Param id path string true "Instance ID"
// @Success 200 {object} store.TenantInstance
// @Failure 404 {object} ErrorResponse
// @Router /tenant_instances/{id} [get]
func (h *InstancesHandler) GetInstance(c echo.Context) error {
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

// SetStatus godoc
// @Summary Change an instance's lifecycle status
// @Tags instances
// @Param id path string true "Instance ID"
// @Param payload body instances.StatusRequest true "Status"
// @Success 200 {object} store.TenantInstance
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tenant_instances/{id}/status [put]
func (h *InstancesHandler) SetStatus(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req instances.StatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.SetStatus(c.Request().Context(), tenantID, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ReportHealth godoc
// @Summary Push a health report for an instance
// @Tags instances
// @Param id path string true "Instance ID"
// @Param payload body instances.HealthReport true "Health"
// @Success 200 {object} store.TenantInstance
// @Failure 404 {object} ErrorResponse
// @Router /tenant_instances/{id}/health [post]
func (h *InstancesHandler) ReportHealth(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req instances.HealthReport
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.ReportHealth(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
