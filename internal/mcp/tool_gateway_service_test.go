package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
)

type fakeExecutor struct {
	tools   []ToolDescriptor
	results map[string]map[string]any
	errs    map[string]error

	mu    sync.Mutex
	calls []ToolSessionContext
}

func (f *fakeExecutor) sessions() []ToolSessionContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ToolSessionContext(nil), f.calls...)
}

func (f *fakeExecutor) ListTools(context.Context, ToolSessionContext) ([]ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeExecutor) CallTool(_ context.Context, session ToolSessionContext, name string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, session)
	f.mu.Unlock()
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return nil, ErrToolNotFound
}

func newGateway() (*ToolGatewayService, *fakeExecutor) {
	a := &fakeExecutor{
		tools: []ToolDescriptor{{Name: "create_task"}, {Name: "dup"}},
		results: map[string]map[string]any{
			"create_task": BuildToolSuccessResult(map[string]any{"id": "t-1"}),
		},
		errs: map[string]error{
			"dup": failure.New(failure.DepthExceeded, "too deep").WithDetails(map[string]any{"max_depth": 2}),
		},
	}
	b := &fakeExecutor{
		tools: []ToolDescriptor{{Name: "get_trace"}, {Name: "dup"}},
		errs:  map[string]error{"get_trace": errors.New("db on fire")},
	}
	return NewToolGatewayService(logger.Discard(), []ToolExecutor{a, b, nil}), a
}

func TestGatewayListToolsDedupes(t *testing.T) {
	gw, _ := newGateway()
	tools, err := gw.ListTools(context.Background(), ToolSessionContext{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Equal(t, []string{"create_task", "dup", "get_trace"}, names)
}

func TestGatewayCallTool(t *testing.T) {
	gw, exec := newGateway()
	ctx := context.Background()
	session := ToolSessionContext{TenantID: uuid.New(), UserID: uuid.New()}

	res, err := gw.CallTool(ctx, session, ToolCallPayload{Name: "create_task"})
	require.NoError(t, err)
	assert.Nil(t, res["isError"])
	require.Len(t, exec.sessions(), 1)
	assert.Equal(t, session.TenantID, exec.sessions()[0].TenantID)

	res, err = gw.CallTool(ctx, session, ToolCallPayload{Name: "dup"})
	require.NoError(t, err)
	assert.Equal(t, true, res["isError"])
	fe := res["structuredContent"].(map[string]any)["error"].(*failure.Error)
	assert.Equal(t, failure.DepthExceeded, fe.Kind)

	res, err = gw.CallTool(ctx, session, ToolCallPayload{Name: "get_trace"})
	require.NoError(t, err)
	fe = res["structuredContent"].(map[string]any)["error"].(*failure.Error)
	assert.Equal(t, failure.Internal, fe.Kind)
	assert.NotContains(t, fe.Message, "db on fire")

	res, err = gw.CallTool(ctx, session, ToolCallPayload{Name: "missing"})
	require.NoError(t, err)
	assert.Equal(t, true, res["isError"])

	_, err = gw.CallTool(ctx, session, ToolCallPayload{Name: " "})
	assert.Error(t, err)
}

func TestHTTPHandlerServesTools(t *testing.T) {
	gw, exec := newGateway()
	tenant := uuid.New()
	handler := NewHTTPHandler(logger.Discard(), gw, "test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(WithSession(r.Context(), ToolSessionContext{TenantID: tenant})))
	}))
	defer srv.Close()

	ctx := context.Background()
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v1"}, nil)
	session, err := client.Connect(ctx, &sdkmcp.StreamableClientTransport{Endpoint: srv.URL, MaxRetries: -1}, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	list, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{})
	require.NoError(t, err)
	assert.Len(t, list.Tools, 3)

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "create_task", Arguments: map[string]any{"objective": "x"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	calls := exec.sessions()
	require.NotEmpty(t, calls)
	assert.Equal(t, tenant, calls[len(calls)-1].TenantID)

	res, err = session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "dup"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRemoteClientListsTools(t *testing.T) {
	gw, _ := newGateway()
	handler := NewHTTPHandler(logger.Discard(), gw, "test")
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		handler.ServeHTTP(w, r.WithContext(WithSession(r.Context(), ToolSessionContext{})))
	}))
	defer srv.Close()

	c := &RemoteClient{endpoint: srv.URL, apiKey: "k", version: "test", client: srv.Client()}
	require.True(t, c.Configured())
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 3)
	assert.Equal(t, "Bearer k", auth.Load())

	_, err = (&RemoteClient{}).ListTools(context.Background())
	assert.Error(t, err)
}
