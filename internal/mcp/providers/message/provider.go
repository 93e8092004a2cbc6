// Package message exposes the group messenger as MCP tools.
package message

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	mcpgw "github.com/agentprovision/agentprovision/internal/mcp"
	"github.com/agentprovision/agentprovision/internal/messages"
)

const (
	toolSend = "send_message"
	toolList = "list_messages"

	defaultListLimit = 50
)

type Messenger interface {
	Send(ctx context.Context, tenantID uuid.UUID, req messages.SendRequest) (store.AgentMessage, error)
	List(ctx context.Context, tenantID uuid.UUID, q messages.ListQuery) ([]store.AgentMessage, error)
}

type Executor struct {
	messages Messenger
	logger   *slog.Logger
}

func NewExecutor(log *slog.Logger, m Messenger) *Executor {
	return &Executor{messages: m, logger: log.With(slog.String("provider", "message_tool"))}
}

func (e *Executor) ListTools(_ context.Context, _ mcpgw.ToolSessionContext) ([]mcpgw.ToolDescriptor, error) {
	return []mcpgw.ToolDescriptor{
		{
			Name:        toolSend,
			Description: "Send a message to another agent in a group, or broadcast it to the group when to_agent_id is omitted. Direct messages follow the group's relationships.",
			InputSchema: mcpgw.ObjectSchema(map[string]any{
				"group_id":          mcpgw.Prop("string", "Group both agents belong to"),
				"from_agent_id":     mcpgw.Prop("string", "Sender, defaults to the session agent"),
				"to_agent_id":       mcpgw.Prop("string", "Recipient; omit to broadcast"),
				"task_id":           mcpgw.Prop("string", "Task the message is about"),
				"message_type":      mcpgw.Prop("string", "request, response, handoff, escalation, update, question or approval_request"),
				"content":           mcpgw.Prop("object", "Message body; responses set in_reply_to"),
				"reasoning":         mcpgw.Prop("string", "Why the message is sent"),
				"requires_response": mcpgw.Prop("boolean", "Whether the recipient must answer"),
				"response_deadline": mcpgw.Prop("string", "RFC 3339 deadline for the answer"),
			}, "group_id", "message_type"),
		},
		{
			Name:        toolList,
			Description: "List group messages, optionally only those visible to one agent and unread.",
			InputSchema: mcpgw.ObjectSchema(map[string]any{
				"group_id":    mcpgw.Prop("string", "Restrict to a group"),
				"task_id":     mcpgw.Prop("string", "Restrict to a task"),
				"agent_id":    mcpgw.Prop("string", "Only messages this agent can read; defaults to the session agent"),
				"unread_only": mcpgw.Prop("boolean", "Only messages the agent has not read"),
				"limit":       mcpgw.Prop("integer", "Maximum number of messages"),
			}),
		},
	}, nil
}

func (e *Executor) CallTool(ctx context.Context, session mcpgw.ToolSessionContext, toolName string, arguments map[string]any) (map[string]any, error) {
	switch toolName {
	case toolSend:
		var req messages.SendRequest
		if err := mcpgw.DecodeArgs(arguments, &req); err != nil {
			return nil, err
		}
		if req.FromAgentID == uuid.Nil {
			if session.AgentID == nil {
				return nil, failure.New(failure.Validation, "from_agent_id is required")
			}
			req.FromAgentID = *session.AgentID
		}
		msg, err := e.messages.Send(ctx, session.TenantID, req)
		if err != nil {
			return nil, err
		}
		return mcpgw.BuildToolSuccessResult(msg), nil
	case toolList:
		var args struct {
			GroupID    *uuid.UUID `json:"group_id"`
			TaskID     *uuid.UUID `json:"task_id"`
			AgentID    *uuid.UUID `json:"agent_id"`
			UnreadOnly bool       `json:"unread_only"`
			Limit      int        `json:"limit"`
		}
		if err := mcpgw.DecodeArgs(arguments, &args); err != nil {
			return nil, err
		}
		q := messages.ListQuery{
			GroupID:    args.GroupID,
			TaskID:     args.TaskID,
			AgentID:    args.AgentID,
			UnreadOnly: args.UnreadOnly,
			Limit:      args.Limit,
		}
		if q.AgentID == nil {
			q.AgentID = session.AgentID
		}
		if q.Limit <= 0 {
			q.Limit = defaultListLimit
		}
		rows, err := e.messages.List(ctx, session.TenantID, q)
		if err != nil {
			return nil, err
		}
		return mcpgw.BuildToolSuccessResult(map[string]any{"items": rows}), nil
	default:
		return nil, mcpgw.ErrToolNotFound
	}
}
