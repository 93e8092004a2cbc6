package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/failure"
)

// ToolSessionContext carries the authenticated caller of a tool call.
type ToolSessionContext struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	// AgentID is the agent the runtime is acting as, if it said so.
	AgentID *uuid.UUID
}

// ToolDescriptor is the MCP tools/list item shape used by the gateway.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolExecutor owns a set of tools.
type ToolExecutor interface {
	ListTools(ctx context.Context, session ToolSessionContext) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, session ToolSessionContext, toolName string, arguments map[string]any) (map[string]any, error)
}

// ToolCallPayload is the MCP tools/call params payload.
type ToolCallPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ErrToolNotFound indicates the executor does not own the requested tool.
var ErrToolNotFound = errors.New("tool not found")

// BuildToolSuccessResult builds a standard MCP tool success result object.
func BuildToolSuccessResult(structured any) map[string]any {
	result := map[string]any{}
	if structured != nil {
		result["structuredContent"] = structured
		if text := stringifyStructuredContent(structured); text != "" {
			result["content"] = []map[string]any{{"type": "text", "text": text}}
		}
	}
	if len(result) == 0 {
		result["content"] = []map[string]any{{"type": "text", "text": "ok"}}
	}
	return result
}

// BuildToolErrorResult builds an MCP error result. Taxonomy errors keep their
// kind and details so the runtime can branch on them.
func BuildToolErrorResult(err error) map[string]any {
	msg := "tool execution failed"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		msg = strings.TrimSpace(err.Error())
	}
	result := map[string]any{
		"isError": true,
		"content": []map[string]any{{"type": "text", "text": msg}},
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		result["structuredContent"] = map[string]any{"error": fe}
		result["content"] = []map[string]any{{"type": "text", "text": fe.Message}}
	}
	return result
}

func stringifyStructuredContent(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	default:
		payload, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(payload)
	}
}

// DecodeArgs maps tool arguments onto a request struct through its JSON tags.
func DecodeArgs(arguments map[string]any, out any) error {
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return failure.Wrap(failure.Validation, err, "arguments are not valid JSON")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return failure.Wrap(failure.Validation, err, "invalid arguments")
	}
	return nil
}

// UUIDArg reads a required uuid argument.
func UUIDArg(arguments map[string]any, key string) (uuid.UUID, error) {
	raw := StringArg(arguments, key)
	if raw == "" {
		return uuid.Nil, failure.New(failure.Validation, "%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, failure.New(failure.Validation, "%s must be a uuid", key)
	}
	return id, nil
}

func StringArg(arguments map[string]any, key string) string {
	raw, ok := arguments[key]
	if !ok || raw == nil {
		return ""
	}
	switch value := raw.(type) {
	case string:
		return strings.TrimSpace(value)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", raw))
	}
}

func BoolArg(arguments map[string]any, key string) (bool, bool, error) {
	raw, ok := arguments[key]
	if !ok || raw == nil {
		return false, false, nil
	}
	value, ok := raw.(bool)
	if !ok {
		return false, true, fmt.Errorf("%s must be a boolean", key)
	}
	return value, true, nil
}
