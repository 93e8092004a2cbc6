package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/healthcheck"
	"github.com/agentprovision/agentprovision/internal/skills"
	"github.com/agentprovision/agentprovision/internal/vault"
)

// SkillsHandler covers skill dispatch, per-tenant skill configuration and
// the credential vault.
type SkillsHandler struct {
	service *skills.Service
	router  *skills.Router
	vault   *vault.Vault
	health  *healthcheck.Service
	logger  *slog.Logger
}

type listCredentialsResponse struct {
	Items []store.SkillCredential `json:"items"`
}

func NewSkillsHandler(log *slog.Logger, service *skills.Service, router *skills.Router, v *vault.Vault, health *healthcheck.Service) *SkillsHandler {
	return &SkillsHandler{
		service: service,
		router:  router,
		vault:   v,
		health:  health,
		logger:  log.With(slog.String("handler", "skills")),
	}
}

func (h *SkillsHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/skills")
	g.POST("/execute", h.Execute)
	g.GET("/health", h.Health)
	g.GET("/catalog", h.Catalog)

	cfg := e.Group(apiPrefix + "/skill_configs")
	cfg.POST("", h.CreateConfig)
	cfg.GET("", h.ListConfigs)
	cfg.GET("/:id", h.GetConfig)
	cfg.PUT("/:id", h.UpdateConfig)
	cfg.DELETE("/:id", h.DeleteConfig)

	cred := e.Group(apiPrefix + "/skill_credentials")
	cred.POST("", h.PutCredential)
	cred.GET("", h.ListCredentials)
	cred.POST("/:id/rotate", h.RotateCredential)
	cred.POST("/:id/revoke", h.RevokeCredential)
}

// Execute godoc
// @Summary Dispatch a skill to the tenant's runtime
// @Description Enforces enablement, approval, rate limits and credentials, then calls the tenant instance with retries.
// @Tags skills
// @Param payload body skills.ExecuteRequest true "Dispatch"
// @Success 200 {object} skills.ExecuteResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 424 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /skills/execute [post]
func (h *SkillsHandler) Execute(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req skills.ExecuteRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.router.Execute(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Health godoc
// @Summary Tenant skill runtime health
// @Tags skills
// @Success 200 {object} healthcheck.Report
// @Router /skills/health [get]
func (h *SkillsHandler) Health(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	if h.health == nil {
		return failure.New(failure.InstanceUnavailable, "health checks are not configured")
	}
	return c.JSON(http.StatusOK, h.health.Check(c.Request().Context(), tenantID))
}

// Catalog godoc
// @Summary List the skill catalog
// @Tags skills
// @Success 200 {object} skills.CatalogResponse
// @Router /skills/catalog [get]
func (h *SkillsHandler) Catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, skills.CatalogResponse{Items: h.service.Catalog()})
}

// CreateConfig godoc
// @Summary Enable a skill for the tenant
// @Description Unset fields take the catalog defaults
// @Tags skills
// @Param payload body skills.CreateConfigRequest true "Skill config"
// @Success 201 {object} store.SkillConfig
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /skill_configs [post]
func (h *SkillsHandler) CreateConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req skills.CreateConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.CreateConfig(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListConfigs godoc
// @Summary List skill configs
// @Tags skills
// @Success 200 {object} skills.ListConfigsResponse
// @Router /skill_configs [get]
func (h *SkillsHandler) ListConfigs(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListConfigs(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, skills.ListConfigsResponse{Items: items})
}

// GetConfig godoc
// @Summary Get a skill config
// @Tags skills
// @Param id path string true "Skill config ID"
// @Success 200 {object} store.SkillConfig
// @Failure 404 {object} ErrorResponse
// @Router /skill_configs/{id} [get]
func (h *SkillsHandler) GetConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.service.GetConfig(c.Request().Context(), tenantID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateConfig godoc
// @Summary Update a skill config
// @Tags skills
// @Param id path string true "Skill config ID"
// @Param payload body skills.UpdateConfigRequest true "Changes"
// @Success 200 {object} store.SkillConfig
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /skill_configs/{id} [put]
func (h *SkillsHandler) UpdateConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req skills.UpdateConfigRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.UpdateConfig(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// DeleteConfig godoc
// @Summary Delete a skill config
// @Tags skills
// @Param id path string true "Skill config ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /skill_configs/{id} [delete]
func (h *SkillsHandler) DeleteConfig(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.DeleteConfig(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// PutCredential godoc
// @Summary Store a skill credential
// @Description The value is encrypted at rest and never returned
// @Tags skills
// @Param payload body vault.PutRequest true "Credential"
// @Success 201 {object} store.SkillCredential
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /skill_credentials [post]
func (h *SkillsHandler) PutCredential(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req vault.PutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.vault.Put(c.Request().Context(), tenantID, req)
	if err != nil {
		return err
	}
	h.logger.Info("credential stored",
		slog.String("skill_config_id", req.SkillConfigID.String()),
		slog.String("credential_key", req.CredentialKey),
	)
	return c.JSON(http.StatusCreated, resp)
}

// ListCredentials godoc
// @Summary List credential metadata for a skill config
// @Tags skills
// @Param skill_config_id query string true "Skill config ID"
// @Success 200 {object} listCredentialsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /skill_credentials [get]
func (h *SkillsHandler) ListCredentials(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	configID, err := queryUUID(c, "skill_config_id")
	if err != nil {
		return err
	}
	if configID == nil {
		return failure.New(failure.Validation, "skill_config_id is required")
	}
	items, err := h.vault.List(c.Request().Context(), tenantID, *configID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listCredentialsResponse{Items: items})
}

// RotateCredential godoc
// @Summary Rotate a credential
// @Description Stores a new value under the same key and revokes the old one
// @Tags skills
// @Param id path string true "Credential ID"
// @Param payload body vault.RotateRequest true "New value"
// @Success 201 {object} store.SkillCredential
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /skill_credentials/{id}/rotate [post]
func (h *SkillsHandler) RotateCredential(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req vault.RotateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.vault.Rotate(c.Request().Context(), tenantID, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// RevokeCredential godoc
// @Summary Revoke a credential
// @Tags skills
// @Param id path string true "Credential ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /skill_credentials/{id}/revoke [post]
func (h *SkillsHandler) RevokeCredential(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.vault.Revoke(c.Request().Context(), tenantID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
