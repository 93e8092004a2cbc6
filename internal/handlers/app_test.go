package handlers

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/accounts"
	"github.com/agentprovision/agentprovision/internal/agents"
	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/memory"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/groups"
	"github.com/agentprovision/agentprovision/internal/healthcheck"
	instancechecker "github.com/agentprovision/agentprovision/internal/healthcheck/checkers/instance"
	"github.com/agentprovision/agentprovision/internal/instances"
	"github.com/agentprovision/agentprovision/internal/logger"
	"github.com/agentprovision/agentprovision/internal/mcp"
	messagetools "github.com/agentprovision/agentprovision/internal/mcp/providers/message"
	skilltools "github.com/agentprovision/agentprovision/internal/mcp/providers/skill"
	tasktools "github.com/agentprovision/agentprovision/internal/mcp/providers/task"
	"github.com/agentprovision/agentprovision/internal/messages"
	"github.com/agentprovision/agentprovision/internal/models"
	"github.com/agentprovision/agentprovision/internal/providers"
	"github.com/agentprovision/agentprovision/internal/routing"
	"github.com/agentprovision/agentprovision/internal/server"
	"github.com/agentprovision/agentprovision/internal/skills"
	"github.com/agentprovision/agentprovision/internal/tasks"
	"github.com/agentprovision/agentprovision/internal/traces"
	"github.com/agentprovision/agentprovision/internal/vault"
)

// testApp wires every handler over one in-memory store, the same way the
// serve command does.
type testApp struct {
	t   *testing.T
	e   *echo.Echo
	st  *memory.Store
	cfg config.Config
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Auth.SecretKey = "handlers-test-secret"
	cfg.Vault.MasterKey = base64.StdEncoding.EncodeToString(key)
	cfg.Server.RequestsPerMinute = 0

	log := logger.Discard()
	st := memory.New()

	accountSvc := accounts.NewService(log, st, cfg)
	agentSvc := agents.NewService(log, st)
	groupSvc := groups.NewService(log, st)
	rec := traces.NewRecorder(log, st)
	v, err := vault.New(log, st, cfg)
	require.NoError(t, err)
	routingSvc := routing.NewService(log, st, v, cfg)
	orch := tasks.NewOrchestrator(log, st, groupSvc, routingSvc, rec, cfg)
	msgSvc := messages.NewService(log, st, groupSvc, orch)
	catalog, err := skills.LoadCatalog("")
	require.NoError(t, err)
	skillSvc := skills.NewService(log, st, catalog)
	router := skills.NewRouter(log, st, v, rec, orch, agentSvc, cfg)
	instanceSvc := instances.NewService(log, st)
	health := healthcheck.NewService(instancechecker.NewChecker(log, instanceSvc))
	gateway := mcp.NewToolGatewayService(log, []mcp.ToolExecutor{
		tasktools.NewExecutor(log, orch),
		messagetools.NewExecutor(log, msgSvc),
		skilltools.NewExecutor(log, router),
	})

	handlers := []server.Handler{
		NewPingHandler(log, "test"),
		NewAuthHandler(log, accountSvc),
		NewUsersHandler(log, accountSvc),
		NewAgentsHandler(log, agentSvc),
		NewGroupsHandler(log, groupSvc),
		NewTasksHandler(log, orch),
		NewMessagesHandler(log, msgSvc),
		NewSkillsHandler(log, skillSvc, router, v, health),
		NewLLMHandler(log, providers.NewService(log, st), models.NewService(log, st), routingSvc),
		NewInstancesHandler(log, instanceSvc),
		NewMCPHandler(log, gateway, agentSvc, "test"),
	}
	srv := server.NewServer(log, cfg, auth.NewResolver(log, st), handlers)
	return &testApp{t: t, e: srv.Echo(), st: st, cfg: cfg}
}

func (a *testApp) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// must performs the request and requires the given status, decoding the
// body into out when it is non-nil.
func (a *testApp) must(status int, method, path, token string, body, out any) {
	a.t.Helper()
	rec := a.do(method, path, token, body)
	require.Equal(a.t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

// signUp registers a fresh tenant and returns its first user's token.
func (a *testApp) signUp(email, tenant string) accounts.TokenResponse {
	a.t.Helper()
	var out accounts.TokenResponse
	a.must(http.StatusCreated, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": email, "password": "P@ss1234", "tenant_name": tenant,
	}, &out)
	require.NotEmpty(a.t, out.AccessToken)
	return out
}

type idOnly struct {
	ID string `json:"id"`
}

func (a *testApp) createAgent(token string, body map[string]any) string {
	a.t.Helper()
	var out idOnly
	a.must(http.StatusCreated, http.MethodPost, "/api/v1/agents", token, body, &out)
	return out.ID
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) failure.Kind {
	t.Helper()
	var body struct {
		Error failure.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Kind
}
