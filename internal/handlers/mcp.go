package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/agentprovision/agentprovision/internal/agents"
	"github.com/agentprovision/agentprovision/internal/auth"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/mcp"
)

// HeaderAgentID names the agent an MCP client is acting as.
const HeaderAgentID = "X-Agent-Id"

// MCPHandler mounts the tool gateway for agent runtimes.
type MCPHandler struct {
	handler http.Handler
	agents  *agents.Service
	logger  *slog.Logger
}

func NewMCPHandler(log *slog.Logger, gateway *mcp.ToolGatewayService, agentService *agents.Service, version string) *MCPHandler {
	return &MCPHandler{
		handler: mcp.NewHTTPHandler(log, gateway, version),
		agents:  agentService,
		logger:  log.With(slog.String("handler", "mcp")),
	}
}

func (h *MCPHandler) Register(e *echo.Echo) {
	e.Match([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, apiPrefix+"/mcp", h.Serve)
}

// Serve godoc
// @Summary MCP tool gateway
// @Description Streamable HTTP MCP endpoint exposing task, message, trace and skill tools. Send X-Agent-Id to act as an agent.
// @Tags mcp
// @Param X-Agent-Id header string false "Acting agent"
// @Param payload body object true "JSON-RPC request"
// @Success 200 {object} object "JSON-RPC response"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /mcp [post]
func (h *MCPHandler) Serve(c echo.Context) error {
	p, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	session := mcp.ToolSessionContext{TenantID: p.TenantID, UserID: p.User.ID}
	if raw := strings.TrimSpace(c.Request().Header.Get(HeaderAgentID)); raw != "" {
		agentID, err := uuid.Parse(raw)
		if err != nil {
			return failure.New(failure.Validation, "%s must be a uuid", HeaderAgentID)
		}
		if _, err := h.agents.Get(c.Request().Context(), p.TenantID, agentID); err != nil {
			return err
		}
		session.AgentID = &agentID
	}
	req := c.Request()
	h.handler.ServeHTTP(c.Response(), req.WithContext(mcp.WithSession(req.Context(), session)))
	return nil
}
