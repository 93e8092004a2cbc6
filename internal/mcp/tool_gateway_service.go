package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentprovision/agentprovision/internal/failure"
)

// ToolGatewayService routes tool calls to the executor that owns the tool.
// The tool set is fixed at construction, so the registry is built once.
type ToolGatewayService struct {
	logger    *slog.Logger
	executors []ToolExecutor

	once     sync.Once
	registry *ToolRegistry
}

func NewToolGatewayService(log *slog.Logger, executors []ToolExecutor) *ToolGatewayService {
	filtered := make([]ToolExecutor, 0, len(executors))
	for _, executor := range executors {
		if executor != nil {
			filtered = append(filtered, executor)
		}
	}
	return &ToolGatewayService{
		logger:    log.With(slog.String("service", "tool_gateway")),
		executors: filtered,
	}
}

func (s *ToolGatewayService) ListTools(ctx context.Context, session ToolSessionContext) ([]ToolDescriptor, error) {
	return s.getRegistry(ctx, session).List(), nil
}

// CallTool never fails the transport for tool-level errors; they come back
// as isError results.
func (s *ToolGatewayService) CallTool(ctx context.Context, session ToolSessionContext, payload ToolCallPayload) (map[string]any, error) {
	toolName := strings.TrimSpace(payload.Name)
	if toolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	executor, ok := s.getRegistry(ctx, session).Lookup(toolName)
	if !ok {
		return BuildToolErrorResult(failure.New(failure.NotFound, "tool not found: %s", toolName)), nil
	}
	arguments := payload.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := executor.CallTool(ctx, session, toolName, arguments)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return BuildToolErrorResult(failure.New(failure.NotFound, "tool not found: %s", toolName)), nil
		}
		if failure.IsKind(err, failure.Internal) {
			s.logger.Error("tool call failed",
				slog.String("tool", toolName),
				slog.String("tenant_id", session.TenantID.String()),
				slog.Any("error", err))
		}
		return BuildToolErrorResult(failure.As(err)), nil
	}
	if result == nil {
		return BuildToolSuccessResult(map[string]any{"ok": true}), nil
	}
	return result, nil
}

func (s *ToolGatewayService) getRegistry(ctx context.Context, session ToolSessionContext) *ToolRegistry {
	s.once.Do(func() {
		registry := NewToolRegistry()
		for _, executor := range s.executors {
			tools, err := executor.ListTools(ctx, session)
			if err != nil {
				s.logger.Warn("list tools from executor failed", slog.Any("error", err))
				continue
			}
			for _, tool := range tools {
				if err := registry.Register(executor, tool); err != nil {
					s.logger.Warn("skip duplicated/invalid tool", slog.String("tool", tool.Name), slog.Any("error", err))
				}
			}
		}
		s.registry = registry
	})
	return s.registry
}
