// Package skill exposes the skill router as an MCP tool.
package skill

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	mcpgw "github.com/agentprovision/agentprovision/internal/mcp"
	"github.com/agentprovision/agentprovision/internal/skills"
)

const toolExecute = "execute_skill"

type Router interface {
	Execute(ctx context.Context, tenantID uuid.UUID, req skills.ExecuteRequest) (skills.ExecuteResponse, error)
}

type Executor struct {
	router Router
	logger *slog.Logger
}

func NewExecutor(log *slog.Logger, r Router) *Executor {
	return &Executor{router: r, logger: log.With(slog.String("provider", "skill_tool"))}
}

func (e *Executor) ListTools(_ context.Context, _ mcpgw.ToolSessionContext) ([]mcpgw.ToolDescriptor, error) {
	return []mcpgw.ToolDescriptor{{
		Name:        toolExecute,
		Description: "Run a tenant skill on the tenant's skill runtime. Tie it to a task so approval gates and cancellation apply.",
		InputSchema: mcpgw.ObjectSchema(map[string]any{
			"skill_name": mcpgw.Prop("string", "Configured skill to run"),
			"payload":    mcpgw.Prop("object", "Skill input"),
			"task_id":    mcpgw.Prop("string", "Task the call belongs to"),
			"agent_id":   mcpgw.Prop("string", "Calling agent, defaults to the session agent"),
		}, "skill_name"),
	}}, nil
}

func (e *Executor) CallTool(ctx context.Context, session mcpgw.ToolSessionContext, toolName string, arguments map[string]any) (map[string]any, error) {
	if toolName != toolExecute {
		return nil, mcpgw.ErrToolNotFound
	}
	var req skills.ExecuteRequest
	if err := mcpgw.DecodeArgs(arguments, &req); err != nil {
		return nil, err
	}
	if req.AgentID == nil {
		req.AgentID = session.AgentID
	}
	resp, err := e.router.Execute(ctx, session.TenantID, req)
	if err != nil {
		return nil, err
	}
	return mcpgw.BuildToolSuccessResult(resp), nil
}
