// Package task exposes the task orchestrator as MCP tools.
package task

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	mcpgw "github.com/agentprovision/agentprovision/internal/mcp"
	"github.com/agentprovision/agentprovision/internal/tasks"
)

const (
	toolCreate = "create_task"
	toolUpdate = "update_task"
	toolTrace  = "get_trace"
)

// Orchestrator is the slice of the task orchestrator the tools call.
type Orchestrator interface {
	Create(ctx context.Context, tenantID uuid.UUID, req tasks.CreateRequest) (store.AgentTask, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, req tasks.UpdateRequest) (store.AgentTask, error)
	Trace(ctx context.Context, tenantID, id uuid.UUID) ([]store.ExecutionTrace, error)
}

type Executor struct {
	tasks  Orchestrator
	logger *slog.Logger
}

func NewExecutor(log *slog.Logger, orch Orchestrator) *Executor {
	return &Executor{tasks: orch, logger: log.With(slog.String("provider", "task_tool"))}
}

func (e *Executor) ListTools(_ context.Context, _ mcpgw.ToolSessionContext) ([]mcpgw.ToolDescriptor, error) {
	return []mcpgw.ToolDescriptor{
		{
			Name:        toolCreate,
			Description: "Create a task for an agent. Tasks assigned to approval-gated agents wait for approval.",
			InputSchema: mcpgw.ObjectSchema(map[string]any{
				"assigned_agent_id": mcpgw.Prop("string", "Agent that will execute the task"),
				"objective":         mcpgw.Prop("string", "What the task must achieve"),
				"task_type":         mcpgw.Prop("string", "Free-form task category"),
				"priority":          mcpgw.Prop("string", "low, normal, high or urgent"),
				"context":           mcpgw.Prop("object", "Arbitrary task context"),
				"group_id":          mcpgw.Prop("string", "Group the task runs in"),
				"parent_task_id":    mcpgw.Prop("string", "Parent task when creating a subtask"),
				"requires_approval": mcpgw.Prop("boolean", "Require human approval before execution"),
			}, "assigned_agent_id", "objective"),
		},
		{
			Name:        toolUpdate,
			Description: "Report progress on a task or move it to a new status.",
			InputSchema: mcpgw.ObjectSchema(map[string]any{
				"task_id":     mcpgw.Prop("string", "Task to update"),
				"status":      mcpgw.Prop("string", "New status: running, awaiting_response, completed, failed or cancelled"),
				"reasoning":   mcpgw.Prop("string", "Reasoning recorded on the task"),
				"output":      mcpgw.Prop("object", "Task output, for completed"),
				"confidence":  mcpgw.Prop("number", "Confidence in [0,1], for completed"),
				"error":       mcpgw.Prop("object", "Error details, for failed"),
				"tokens_used": mcpgw.Prop("integer", "Tokens spent since the last update"),
				"cost":        mcpgw.Prop("number", "Cost incurred since the last update"),
			}, "task_id"),
		},
		{
			Name:        toolTrace,
			Description: "Return the ordered execution trace of a task.",
			InputSchema: mcpgw.ObjectSchema(map[string]any{
				"task_id": mcpgw.Prop("string", "Task whose trace to read"),
			}, "task_id"),
		},
	}, nil
}

func (e *Executor) CallTool(ctx context.Context, session mcpgw.ToolSessionContext, toolName string, arguments map[string]any) (map[string]any, error) {
	switch toolName {
	case toolCreate:
		var req tasks.CreateRequest
		if err := mcpgw.DecodeArgs(arguments, &req); err != nil {
			return nil, err
		}
		if req.CreatedByAgentID == nil {
			req.CreatedByAgentID = session.AgentID
		}
		user := session.UserID
		req.CreatedByUserID = &user
		t, err := e.tasks.Create(ctx, session.TenantID, req)
		if err != nil {
			return nil, err
		}
		return mcpgw.BuildToolSuccessResult(t), nil
	case toolUpdate:
		id, err := mcpgw.UUIDArg(arguments, "task_id")
		if err != nil {
			return nil, err
		}
		var req tasks.UpdateRequest
		if err := mcpgw.DecodeArgs(arguments, &req); err != nil {
			return nil, err
		}
		t, err := e.tasks.Update(ctx, session.TenantID, id, req)
		if err != nil {
			return nil, err
		}
		return mcpgw.BuildToolSuccessResult(t), nil
	case toolTrace:
		id, err := mcpgw.UUIDArg(arguments, "task_id")
		if err != nil {
			return nil, err
		}
		rows, err := e.tasks.Trace(ctx, session.TenantID, id)
		if err != nil {
			return nil, err
		}
		return mcpgw.BuildToolSuccessResult(map[string]any{"items": rows}), nil
	default:
		return nil, mcpgw.ErrToolNotFound
	}
}
