package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "agentprovision-tools"

type sessionKey struct{}

// WithSession stores the tool session on ctx for the MCP handler.
func WithSession(ctx context.Context, session ToolSessionContext) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// NewHTTPHandler serves the gateway over stateless streamable HTTP. Callers
// must attach a session with WithSession before delegating to it.
func NewHTTPHandler(log *slog.Logger, gateway *ToolGatewayService, version string) http.Handler {
	inner := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server {
			session, ok := r.Context().Value(sessionKey{}).(ToolSessionContext)
			if !ok {
				return nil
			}
			server := sdkmcp.NewServer(
				&sdkmcp.Implementation{Name: serverName, Version: version},
				&sdkmcp.ServerOptions{
					Capabilities: &sdkmcp.ServerCapabilities{
						Tools: &sdkmcp.ToolCapabilities{ListChanged: false},
					},
				},
			)
			server.AddReceivingMiddleware(gatewayMiddleware(gateway, session))
			return server
		},
		&sdkmcp.StreamableHTTPOptions{
			Stateless:    true,
			JSONResponse: true,
			Logger:       log,
		},
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ensureStreamableAcceptHeader(r)
		inner.ServeHTTP(w, r)
	})
}

func gatewayMiddleware(gateway *ToolGatewayService, session ToolSessionContext) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			switch strings.TrimSpace(method) {
			case "tools/list":
				tools, err := gateway.ListTools(ctx, session)
				if err != nil {
					return nil, err
				}
				return &sdkmcp.ListToolsResult{Tools: toSDKTools(tools)}, nil
			case "tools/call":
				callReq, ok := req.(*sdkmcp.ServerRequest[*sdkmcp.CallToolParamsRaw])
				if !ok || callReq == nil || callReq.Params == nil {
					return nil, fmt.Errorf("tools/call params is required")
				}
				payload, err := callPayload(callReq.Params)
				if err != nil {
					return nil, err
				}
				result, err := gateway.CallTool(ctx, session, payload)
				if err != nil {
					return nil, err
				}
				return toSDKResult(result)
			default:
				return next(ctx, method, req)
			}
		}
	}
}

func callPayload(params *sdkmcp.CallToolParamsRaw) (ToolCallPayload, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return ToolCallPayload{}, fmt.Errorf("tools/call name is required")
	}
	arguments := map[string]any{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &arguments); err != nil {
			return ToolCallPayload{}, err
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	return ToolCallPayload{Name: name, Arguments: arguments}, nil
}

func toSDKTools(items []ToolDescriptor) []*sdkmcp.Tool {
	tools := make([]*sdkmcp.Tool, 0, len(items))
	for _, item := range items {
		tools = append(tools, &sdkmcp.Tool{
			Name:        item.Name,
			Description: item.Description,
			InputSchema: item.InputSchema,
		})
	}
	return tools
}

func toSDKResult(result map[string]any) (*sdkmcp.CallToolResult, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var out sdkmcp.CallToolResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ensureStreamableAcceptHeader lets plain JSON clients talk to the
// streamable transport, which insists on both media types.
func ensureStreamableAcceptHeader(req *http.Request) {
	joined := strings.ToLower(strings.Join(req.Header.Values("Accept"), ","))
	hasJSON := strings.Contains(joined, "application/json") || strings.Contains(joined, "*/*")
	hasStream := strings.Contains(joined, "text/event-stream") || strings.Contains(joined, "*/*")
	if hasJSON && hasStream {
		return
	}
	parts := make([]string, 0, 3)
	if base := strings.TrimSpace(strings.Join(req.Header.Values("Accept"), ",")); base != "" {
		parts = append(parts, base)
	}
	if !hasJSON {
		parts = append(parts, "application/json")
	}
	if !hasStream {
		parts = append(parts, "text/event-stream")
	}
	req.Header.Set("Accept", strings.Join(parts, ", "))
}
