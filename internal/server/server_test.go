package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

const testSecret = "test-secret"

type routeFunc func(e *echo.Echo)

func (f routeFunc) Register(e *echo.Echo) { f(e) }

type probeBody struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=1"`
}

func newTestServer(t *testing.T, server config.ServerConfig) (*Server, string) {
	t.Helper()
	return newTestServerWithTimeout(t, server, config.DefaultWorkflowTimeoutSeconds)
}

func newTestServerWithTimeout(t *testing.T, server config.ServerConfig, timeoutSeconds int) (*Server, string) {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	tenant, err := st.CreateTenant(ctx, store.Tenant{Name: "T", Slug: "t"})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, store.User{TenantID: tenant.ID, Email: "a@example.com", IsActive: true})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, store.User{TenantID: tenant.ID, Email: "off@example.com"})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Auth.SecretKey = testSecret
	cfg.Server = server
	cfg.Workflow.DefaultTimeoutSeconds = timeoutSeconds

	routes := routeFunc(func(e *echo.Echo) {
		e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
		e.GET("/api/v1/whoami", func(c echo.Context) error {
			p, err := auth.FromEcho(c)
			if err != nil {
				return err
			}
			return c.JSON(http.StatusOK, map[string]string{"tenant_id": p.TenantID.String()})
		})
		e.GET("/api/v1/deadline", func(c echo.Context) error {
			deadline, ok := c.Request().Context().Deadline()
			if !ok {
				return c.JSON(http.StatusOK, map[string]any{"has_deadline": false})
			}
			return c.JSON(http.StatusOK, map[string]any{"has_deadline": true, "remaining_ms": time.Until(deadline).Milliseconds()})
		})
		e.GET("/api/v1/slow", func(c echo.Context) error {
			<-c.Request().Context().Done()
			return c.Request().Context().Err()
		})
		e.GET("/api/v1/fail/:kind", func(c echo.Context) error {
			if c.Param("kind") == "plain" {
				return errors.New("database exploded")
			}
			return failure.New(failure.Kind(c.Param("kind")), "boom").WithDetails(map[string]any{"k": "v"})
		})
		e.POST("/api/v1/echo", func(c echo.Context) error {
			var body probeBody
			if err := c.Bind(&body); err != nil {
				return err
			}
			if err := c.Validate(body); err != nil {
				return err
			}
			return c.JSON(http.StatusOK, body)
		})
	})
	srv := NewServer(logger.Discard(), cfg, auth.NewResolver(logger.Discard(), st), []Handler{routes, nil})
	return srv, tenant.ID.String()
}

func bearer(t *testing.T, email string) string {
	t.Helper()
	token, _, err := auth.GenerateToken(email, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(srv *Server, method, path, authz, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) failure.Error {
	t.Helper()
	var body struct {
		Error failure.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestShouldSkipAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/api/v1/auth/login", want: true},
		{path: "/api/v1/auth", want: false},
		{path: "/api/v1/agents", want: false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shouldSkipAuth(tc.path), tc.path)
	}
}

func TestAuthentication(t *testing.T) {
	srv, tenantID := newTestServer(t, config.ServerConfig{})

	rec := do(srv, http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/whoami", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, failure.Unauthenticated, decodeError(t, rec).Kind)

	rec = do(srv, http.MethodGet, "/api/v1/whoami", "Bearer nope", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/whoami", bearer(t, "ghost@example.com"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/whoami", bearer(t, "off@example.com"), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, failure.InactiveUser, decodeError(t, rec).Kind)

	rec = do(srv, http.MethodGet, "/api/v1/whoami", bearer(t, "a@example.com"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tenantID)
}

func TestErrorRendering(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{})
	token := bearer(t, "a@example.com")

	rec := do(srv, http.MethodGet, "/api/v1/fail/rate_limited", token, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	fe := decodeError(t, rec)
	assert.Equal(t, failure.RateLimited, fe.Kind)
	assert.Equal(t, "boom", fe.Message)
	assert.Equal(t, "v", fe.Details["k"])

	rec = do(srv, http.MethodGet, "/api/v1/fail/plain", token, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	fe = decodeError(t, rec)
	assert.Equal(t, failure.Internal, fe.Kind)
	assert.Equal(t, "internal error", fe.Message)
	assert.NotContains(t, rec.Body.String(), "exploded")

	rec = do(srv, http.MethodGet, "/api/v1/missing", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, failure.NotFound, decodeError(t, rec).Kind)
}

func TestValidation(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{})
	token := bearer(t, "a@example.com")

	rec := do(srv, http.MethodPost, "/api/v1/echo", token, `{"name":"x","count":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/echo", token, `{"count":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fe := decodeError(t, rec)
	assert.Equal(t, failure.Validation, fe.Kind)
	fields, ok := fe.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "gte", fields["count"])

	rec = do(srv, http.MethodPost, "/api/v1/echo", token, `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, failure.Validation, decodeError(t, rec).Kind)
}

func TestRateLimiter(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{RequestsPerMinute: 1, Burst: 2})
	token := bearer(t, "a@example.com")

	for i := 0; i < 2; i++ {
		rec := do(srv, http.MethodGet, "/api/v1/whoami", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(srv, http.MethodGet, "/api/v1/whoami", token, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, failure.RateLimited, decodeError(t, rec).Kind)

	// Unauthenticated callers are keyed by address, not by the user above.
	rec = do(srv, http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestDeadline(t *testing.T) {
	srv, _ := newTestServer(t, config.ServerConfig{})
	rec := do(srv, http.MethodGet, "/api/v1/deadline", bearer(t, "a@example.com"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		HasDeadline bool  `json:"has_deadline"`
		RemainingMS int64 `json:"remaining_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.HasDeadline)
	assert.Greater(t, body.RemainingMS, int64(590_000))
	assert.LessOrEqual(t, body.RemainingMS, int64(600_000))
}

func TestRequestDeadlineExceeded(t *testing.T) {
	srv, _ := newTestServerWithTimeout(t, config.ServerConfig{}, 1)
	rec := do(srv, http.MethodGet, "/api/v1/slow", bearer(t, "a@example.com"), "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, failure.Timeout, decodeError(t, rec).Kind)
}
