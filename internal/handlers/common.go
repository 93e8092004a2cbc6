package handlers

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/server"
)

const apiPrefix = "/api/v1"

// ErrorResponse documents the error envelope for swagger.
type ErrorResponse = server.ErrorResponse

// bindAndValidate decodes the request body into dst and runs its validate tags.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return failure.Wrap(failure.Validation, err, "malformed request body")
	}
	return c.Validate(dst)
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, failure.New(failure.Validation, "%s must be a uuid", name)
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, failure.New(failure.Validation, "%s must be a uuid", name)
	}
	return &id, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, failure.New(failure.Validation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func queryBool(c echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, failure.New(failure.Validation, "%s must be a boolean", name)
	}
	return b, nil
}

// tenantOf returns the caller's tenant. Handlers never read a tenant id from
// the request itself.
func tenantOf(c echo.Context) (uuid.UUID, error) {
	p, err := auth.FromEcho(c)
	if err != nil {
		return uuid.Nil, err
	}
	return p.TenantID, nil
}
