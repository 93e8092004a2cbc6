package task

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/logger"
	mcpgw "github.com/agentprovision/agentprovision/internal/mcp"
	"github.com/agentprovision/agentprovision/internal/tasks"
)

type fakeOrchestrator struct {
	created tasks.CreateRequest
	updated tasks.UpdateRequest
	id      uuid.UUID
}

func (f *fakeOrchestrator) Create(_ context.Context, tenantID uuid.UUID, req tasks.CreateRequest) (store.AgentTask, error) {
	f.created = req
	return store.AgentTask{ID: uuid.New(), TenantID: tenantID, Objective: req.Objective}, nil
}

func (f *fakeOrchestrator) Update(_ context.Context, _, id uuid.UUID, req tasks.UpdateRequest) (store.AgentTask, error) {
	f.id, f.updated = id, req
	return store.AgentTask{ID: id}, nil
}

func (f *fakeOrchestrator) Trace(_ context.Context, _, id uuid.UUID) ([]store.ExecutionTrace, error) {
	return []store.ExecutionTrace{{TaskID: id, StepType: store.StepDispatched}}, nil
}

func TestListTools(t *testing.T) {
	tools, err := NewExecutor(logger.Discard(), &fakeOrchestrator{}).ListTools(context.Background(), mcpgw.ToolSessionContext{})
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, []string{"assigned_agent_id", "objective"}, tools[0].InputSchema["required"])
}

func TestCreateTaskUsesSession(t *testing.T) {
	orch := &fakeOrchestrator{}
	exec := NewExecutor(logger.Discard(), orch)
	agent := uuid.New()
	session := mcpgw.ToolSessionContext{TenantID: uuid.New(), UserID: uuid.New(), AgentID: &agent}
	assignee := uuid.New()

	res, err := exec.CallTool(context.Background(), session, toolCreate, map[string]any{
		"assigned_agent_id": assignee.String(),
		"objective":         "summarise",
		"priority":          "high",
	})
	require.NoError(t, err)
	assert.NotNil(t, res["structuredContent"])
	assert.Equal(t, assignee, orch.created.AssignedAgentID)
	assert.Equal(t, store.PriorityHigh, orch.created.Priority)
	require.NotNil(t, orch.created.CreatedByAgentID)
	assert.Equal(t, agent, *orch.created.CreatedByAgentID)
	require.NotNil(t, orch.created.CreatedByUserID)
	assert.Equal(t, session.UserID, *orch.created.CreatedByUserID)
}

func TestUpdateTask(t *testing.T) {
	orch := &fakeOrchestrator{}
	exec := NewExecutor(logger.Discard(), orch)
	id := uuid.New()

	_, err := exec.CallTool(context.Background(), mcpgw.ToolSessionContext{}, toolUpdate, map[string]any{
		"task_id":    id.String(),
		"status":     "completed",
		"confidence": 0.8,
		"output":     map[string]any{"summary": "done"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, orch.id)
	require.NotNil(t, orch.updated.Status)
	assert.Equal(t, store.TaskCompleted, *orch.updated.Status)
	assert.Equal(t, "done", orch.updated.Output["summary"])

	_, err = exec.CallTool(context.Background(), mcpgw.ToolSessionContext{}, toolUpdate, map[string]any{"task_id": "nope"})
	assert.True(t, failure.IsKind(err, failure.Validation))

	_, err = exec.CallTool(context.Background(), mcpgw.ToolSessionContext{}, "other", nil)
	assert.ErrorIs(t, err, mcpgw.ErrToolNotFound)
}
