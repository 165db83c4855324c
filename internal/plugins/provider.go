package plugins

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient is the part of an MCP client session a plugin needs. Satisfied
// by *client.Client from mcp-go, over stdio or in-process transports.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// PluginConfig describes how to launch and identify a plugin subprocess.
type PluginConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"` // MCP server binary path
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}
