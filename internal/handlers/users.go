package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/accounts"
	"github.com/agentprovision/agentprovision/internal/auth"
)

// AuthHandler issues tokens for new and returning users.
type AuthHandler struct {
	service *accounts.Service
	logger  *slog.Logger
}

func NewAuthHandler(log *slog.Logger, service *accounts.Service) *AuthHandler {
	return &AuthHandler{service: service, logger: log.With(slog.String("handler", "auth"))}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/auth")
	g.POST("/register", h.SignUp)
	g.POST("/login", h.Login)
}

// SignUp godoc
// @Summary Register a tenant
// @Description Create a tenant and its first user, then return an access token
// @Tags auth
// @Param payload body accounts.RegisterRequest true "Registration"
// @Success 201 {object} accounts.TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) SignUp(c echo.Context) error {
	var req accounts.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	h.logger.Info("tenant registered", slog.String("tenant_id", resp.User.TenantID))
	return c.JSON(http.StatusCreated, resp)
}

// Login godoc
// @Summary Log in
// @Description Exchange email and password for an access token. Accepts JSON or form encoding.
// @Tags auth
// @Param payload body accounts.LoginRequest true "Credentials"
// @Success 200 {object} accounts.TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req accounts.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// UsersHandler exposes the caller's account and tenant user management.
type UsersHandler struct {
	service *accounts.Service
	logger  *slog.Logger
}

func NewUsersHandler(log *slog.Logger, service *accounts.Service) *UsersHandler {
	return &UsersHandler{service: service, logger: log.With(slog.String("handler", "users"))}
}

func (h *UsersHandler) Register(e *echo.Echo) {
	g := e.Group(apiPrefix + "/users")
	g.GET("/me", h.GetMe)
	g.GET("", h.ListUsers)
	g.POST("", h.CreateUser)
	g.PUT("/:id/active", h.SetActive)
}

// GetMe godoc
// @Summary Get current user
// @Description Get the authenticated user together with its tenant
// @Tags users
// @Success 200 {object} accounts.Account
// @Failure 401 {object} ErrorResponse
// @Router /users/me [get]
func (h *UsersHandler) GetMe(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	resp, err := h.service.Me(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ListUsers godoc
// @Summary List tenant users
// @Tags users
// @Success 200 {object} accounts.ListResponse
// @Failure 401 {object} ErrorResponse
// @Router /users [get]
func (h *UsersHandler) ListUsers(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accounts.ListResponse{Items: items})
}

// CreateUser godoc
// @Summary Create a user in the caller's tenant
// @Description Superusers only
// @Tags users
// @Param payload body accounts.CreateUserRequest true "User"
// @Success 201 {object} accounts.Account
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /users [post]
func (h *UsersHandler) CreateUser(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	var req accounts.CreateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.CreateUser(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// SetActive godoc
// @Summary Activate or deactivate a user
// @Description Superusers only. Deactivated users can no longer authenticate.
// @Tags users
// @Param id path string true "User ID"
// @Param payload body accounts.SetActiveRequest true "Active flag"
// @Success 200 {object} accounts.Account
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{id}/active [put]
func (h *UsersHandler) SetActive(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req accounts.SetActiveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	resp, err := h.service.SetActive(c.Request().Context(), p, id, req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
