package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/models"
	"github.com/agentprovision/agentprovision/internal/providers"
	"github.com/agentprovision/agentprovision/internal/routing"
)

// LLMHandler exposes the shared provider and model registry, tenant LLM
// configs and model resolution. Registry writes need a superuser.
type LLMHandler struct {
	providers *providers.Service
	models    *models.Service
	routing   *routing.Service
	logger    *slog.Logger
}

func NewLLMHandler(log *slog.Logger, providersService *providers.Service, modelsService *models.Service, routingService *routing.Service) *LLMHandler {
	return &LLMHandler{
		providers: providersService,
		models:    modelsService,
		routing:   routingService,
		logger:    log.With(slog.String("handler", "llm")),
	}
}

func (h *LLMHandler) Register(e *echo.Echo) {
	p := e.Group(apiPrefix + "/llm_providers")
	p.POST("", h.CreateProvider)
	p.GET("", h.ListProviders)
	p.GET("/:id", h.GetProvider)
	p.PUT("/:id", h.UpdateProvider)
	p.DELETE("/:id", h.DeleteProvider)

	m := e.Group(apiPrefix + "/llm_models")
	m.POST("", h.CreateModel)
	m.GET("", h.ListModels)
	m.GET("/:id", h.GetModel)
	m.PUT("/:id", h.UpdateModel)
	m.DELETE("/:id", h.DeleteModel)

	c := e.Group(apiPrefix + "/llm_configs")
	c.POST("", h.CreateConfig)
	c.GET("", h.ListConfigs)
	c.GET("/:id", h.GetConfig)
	c.PUT("/:id", h.UpdateConfig)
	c.DELETE("/:id", h.DeleteConfig)

	e.POST(apiPrefix+"/llm/resolve", h.Resolve)
	e.PUT(apiPrefix+"/tenants/me/default_llm_config", h.SetTenantDefault)
}

// CreateProvider godoc
// @Summary Register an LLM provider
// @Description Superusers only
// @Tags llm
// @Param payload body providers.CreateRequest true "Provider"
// @Success 201 {object} providers.GetResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /llm_providers [post]
func (h *LLMHandler) CreateProvider(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	var req providers.CreateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.providers.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListProviders godoc
// @Summary List LLM providers
// @Tags llm
// @Success 200 {object} providers.ListResponse
// @Router /llm_providers [get]
func (h *LLMHandler) ListProviders(c echo.Context) error {
	items, err := h.providers.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, providers.ListResponse{Providers: items, Total: int64(len(items))})
}

// GetProvider godoc
// @Summary Get an LLM provider
// @Tags llm
// @Param id path string true "Provider ID"
// @Success 200 {object} providers.GetResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_providers/{id} [get]
func (h *LLMHandler) GetProvider(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.providers.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateProvider godoc
// @Summary Update an LLM provider
// @Description Superusers only
// @Tags llm
// @Param id path string true "Provider ID"
// @Param payload body providers.UpdateRequest true "Changes"
// @Success 200 {object} providers.GetResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_providers/{id} [put]
func (h *LLMHandler) UpdateProvider(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req providers.UpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.providers.Update(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteProvider godoc
// @Summary Delete an LLM provider
// @Description Superusers only
// @Tags llm
// @Param id path string true "Provider ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_providers/{id} [delete]
func (h *LLMHandler) DeleteProvider(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.providers.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateModel godoc
// @Summary Register an LLM model
// @Description Superusers only
// @Tags llm
// @Param payload body models.AddRequest true "Model"
// @Success 201 {object} models.GetResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /llm_models [post]
func (h *LLMHandler) CreateModel(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	var req models.AddRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.models.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListModels godoc
// @Summary List LLM models
// @Tags llm
// @Param provider_id query string false "Filter by provider"
// @Success 200 {object} models.ListResponse
// @Router /llm_models [get]
func (h *LLMHandler) ListModels(c echo.Context) error {
	providerID, err := queryUUID(c, "provider_id")
	if err != nil {
		return err
	}
	items, err := h.models.List(c.Request().Context(), providerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.ListResponse{Items: items})
}

// GetModel godoc
// @Summary Get an LLM model
// @Tags llm
// @Param id path string true "Model ID"
// @Success 200 {object} models.GetResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_models/{id} [get]
func (h *LLMHandler) GetModel(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.models.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateModel godoc
// @Summary Update an LLM model
// @Description Superusers only
// @Tags llm
// @Param id path string true "Model ID"
// @Param payload body models.UpdateRequest true "Changes"
// @Success 200 {object} models.GetResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_models/{id} [put]
func (h *LLMHandler) UpdateModel(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req models.UpdateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.models.UpdateByID(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteModel godoc
// @Summary Delete an LLM model
// @Description Superusers only
// @Tags llm
// @Param id path string true "Model ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_models/{id} [delete]
func (h *LLMHandler) DeleteModel(c echo.Context) error {
	if _, err := auth.RequireSuperuser(c); err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.models.DeleteByID(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateConfig godoc
// @Summary Create a tenant LLM config
// @Description api_key is sealed before storage and never returned
// @Tags llm
// @Param payload body routing.ConfigRequest true "LLM config"
// @Success 201 {object} routing.ConfigResponse
// @Failure 400 {object} ErrorResponse
// @Router /llm_configs [post]
func (h *LLMHandler) CreateConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req routing.ConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.routing.Create(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListConfigs godoc
// @Summary List tenant LLM configs
// @Tags llm
// @Success 200 {object} routing.ListResponse
// @Router /llm_configs [get]
func (h *LLMHandler) ListConfigs(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	items, err := h.routing.List(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, routing.ListResponse{Items: items})
}

// GetConfig godoc
// @Summary Get a tenant LLM config
// @Tags llm
// @Param id path string true "LLM config ID"
// @Success 200 {object} routing.ConfigResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_configs/{id} [get]
func (h *LLMHandler) GetConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.routing.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateConfig godoc
// @Summary Replace a tenant LLM config
// @Tags llm
// @Param id path string true "LLM config ID"
// @Param payload body routing.ConfigRequest true "LLM config"
// @Success 200 {object} routing.ConfigResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm_configs/{id} [put]
func (h *LLMHandler) UpdateConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req routing.ConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.routing.Update(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteConfig godoc
// @Summary Delete a tenant LLM config
// @Tags llm
// @Param id path string true "LLM config ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /llm_configs/{id} [delete]
func (h *LLMHandler) DeleteConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.routing.Delete(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Resolve godoc
// @Summary Resolve the effective model for a call
// @Description Walks agent, tenant and platform configs, applies routing rules and budget gates. The key is returned masked.
// @Tags llm
// @Param payload body routing.ResolveRequest true "Call context"
// @Success 200 {object} routing.ResolveResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /llm/resolve [post]
func (h *LLMHandler) Resolve(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req routing.ResolveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resolved, err := h.routing.Resolve(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resolved.View())
}

// SetTenantDefault godoc
// @Summary Set the tenant's default LLM config
// @Description A null llm_config_id clears the default
// @Tags llm
// @Param payload body routing.DefaultConfigRequest true "Default config"
// @Success 200 {object} store.Tenant
// @Failure 404 {object} ErrorResponse
// @Router /tenants/me/default_llm_config [put]
func (h *LLMHandler) SetTenantDefault(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req routing.DefaultConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.routing.SetTenantDefault(c.Request().Context(), tenantID, req.LLMConfigID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
