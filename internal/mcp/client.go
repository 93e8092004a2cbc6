package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentprovision/agentprovision/internal/config"
)

// RemoteClient talks to the agent runtime's MCP server configured under [mcp].
type RemoteClient struct {
	endpoint string
	apiKey   string
	version  string
	client   *http.Client
}

func NewRemoteClient(cfg config.Config, version string) *RemoteClient {
	return &RemoteClient{
		endpoint: strings.TrimSpace(cfg.MCP.ServerURL),
		apiKey:   cfg.MCP.APIKey,
		version:  version,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a server URL is set.
func (c *RemoteClient) Configured() bool {
	return c != nil && c.endpoint != ""
}

// Endpoint returns the configured server URL.
func (c *RemoteClient) Endpoint() string {
	return c.endpoint
}

// ListTools connects, lists the server's tools and disconnects.
func (c *RemoteClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("mcp server url is not configured")
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: serverName + "-probe", Version: c.version}, nil)
	session, err := client.Connect(ctx, &sdkmcp.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: c.httpClient(),
		MaxRetries: -1,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server: %w", err)
	}
	defer func() { _ = session.Close() }()
	result, err := session.ListTools(ctx, &sdkmcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	out := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		if t == nil {
			continue
		}
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

func (c *RemoteClient) httpClient() *http.Client {
	if c.apiKey == "" {
		return c.client
	}
	return &http.Client{
		Timeout:   c.client.Timeout,
		Transport: apiKeyTransport{key: c.apiKey, base: http.DefaultTransport},
	}
}

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.key)
	return t.base.RoundTrip(req)
}
