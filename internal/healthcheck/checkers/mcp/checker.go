package mcpchecker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentprovision/agentprovision/internal/healthcheck"
	"github.com/agentprovision/agentprovision/internal/mcp"
)

const (
	checkTypeMCPServer  = "mcp.server"
	defaultCheckTimeout = 8 * time.Second
)

// ToolLister lists tools on the configured MCP server.
type ToolLister interface {
	Configured() bool
	Endpoint() string
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
}

// Checker evaluates whether the agent runtime's MCP server answers.
type Checker struct {
	logger  *slog.Logger
	tools   ToolLister
	timeout time.Duration
}

// NewChecker creates an MCP health checker.
func NewChecker(log *slog.Logger, tools ToolLister) *Checker {
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_mcp")),
		tools:   tools,
		timeout: defaultCheckTimeout,
	}
}

// ListChecks probes the MCP server. The server is shared by all tenants, so
// the tenant only scopes logging.
func (c *Checker) ListChecks(ctx context.Context, tenantID uuid.UUID) []healthcheck.CheckResult {
	if c.tools == nil || !c.tools.Configured() {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeMCPServer,
		Type:     checkTypeMCPServer,
		Subtitle: c.tools.Endpoint(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	tools, err := c.tools.ListTools(probeCtx)
	if err != nil {
		c.logger.Warn("mcp healthcheck list tools failed",
			slog.String("tenant_id", tenantID.String()),
			slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "MCP server is not reachable."
		item.Detail = err.Error()
		return []healthcheck.CheckResult{item}
	}
	item.Metadata = map[string]any{"tool_count": len(tools)}
	if len(tools) == 0 {
		item.Status = healthcheck.StatusWarn
		item.Summary = "MCP server is reachable but no tools found."
		item.Detail = "The server responded but exposed no tools."
		return []healthcheck.CheckResult{item}
	}
	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("MCP server is healthy (%d tools).", len(tools))
	return []healthcheck.CheckResult{item}
}
