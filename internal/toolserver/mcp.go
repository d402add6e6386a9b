package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

// MCPConnector speaks MCP to tool servers over stdio.
type MCPConnector struct {
	version string
	log     *logging.Logger
	dial    func(ctx context.Context, spec LaunchSpec) (*client.Client, error)
}

// NewMCPConnector creates a stdio connector. version is reported to servers
// in the initialize handshake.
func NewMCPConnector(version string, log *logging.Logger) *MCPConnector {
	return &MCPConnector{
		version: version,
		log:     log.WithPrefix("mcp"),
		dial:    dialStdio,
	}
}

func dialStdio(_ context.Context, spec LaunchSpec) (*client.Client, error) {
	return client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
}

// Connect starts the process and performs the initialize handshake.
func (c *MCPConnector) Connect(ctx context.Context, spec LaunchSpec) (Session, error) {
	cli, err := c.dial(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "agentd", Version: c.version}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := cli.Initialize(ctx, req)
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize %s: %w", spec.Command, err)
	}
	c.log.Debug("tool server initialized",
		logging.F("server", result.ServerInfo.Name),
		logging.F("server_version", result.ServerInfo.Version),
	)
	return &mcpSession{client: cli}, nil
}

type mcpSession struct {
	client *client.Client
}

func (s *mcpSession) ListTools(ctx context.Context) ([]tools.NativeTool, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]tools.NativeTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, tools.NativeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}
	return out, nil
}

// inputSchema goes through the tool's own JSON encoding, which already
// picks between the typed and raw schema forms.
func inputSchema(t mcp.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	return wire.InputSchema
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{Text: contentText(res.Content), IsError: res.IsError}, nil
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}

// contentText joins text blocks; other block kinds are rendered as JSON.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, block := range content {
		switch b := block.(type) {
		case mcp.TextContent:
			parts = append(parts, b.Text)
		case *mcp.TextContent:
			parts = append(parts, b.Text)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
