// Package mcp attaches external MCP tool servers. Each configured server is
// launched as a subprocess, its tools are discovered over the protocol, and
// every discovered tool is registered into the shared registry.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stupid-ve/ChatLab/config"
	"github.com/stupid-ve/ChatLab/errors"
	"github.com/stupid-ve/ChatLab/llm"
	"github.com/stupid-ve/ChatLab/tools"
	"go.uber.org/zap"
)

// Server is one connected MCP server subprocess.
type Server struct {
	Name string
	cmd  *exec.Cmd
	conn *mcpsdk.ClientSession
	log  *zap.SugaredLogger
}

// Connect launches the server subprocess and completes the MCP handshake.
func Connect(ctx context.Context, entry config.MCPServer, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cmd := exec.Command(entry.Command, entry.Args...)
	cmd.Stderr = os.Stderr

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "chatlab", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "connect to MCP server %q", entry.Name)
	}
	return &Server{Name: entry.Name, cmd: cmd, conn: conn, log: log}, nil
}

// RegisterTools discovers the server's tools, following list pagination, and
// registers each one into the registry.
func (s *Server) RegisterTools(ctx context.Context, reg *tools.Registry) error {
	params := &mcpsdk.ListToolsParams{}
	count := 0
	for {
		list, err := s.conn.ListTools(ctx, params)
		if err != nil {
			return errors.Wrapf(err, "list tools from MCP server %q", s.Name)
		}
		for _, t := range list.Tools {
			def := llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			}
			if err := reg.Register(def, s.handler(t.Name)); err != nil {
				return err
			}
			count++
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	s.log.Infow("attached MCP server", "server", s.Name, "tools", count)
	return nil
}

func (s *Server) handler(toolName string) tools.Handler {
	return func(ctx context.Context, args map[string]any, _ *tools.Context) (string, error) {
		result, err := s.conn.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: args,
		})
		if err != nil {
			return "", errors.Wrapf(err, "call MCP tool %q", toolName)
		}
		out := ""
		for _, content := range result.Content {
			if text, ok := content.(*mcpsdk.TextContent); ok {
				out += text.Text
			}
		}
		if result.IsError {
			return "", errors.New("MCP tool %q reported an error: %s", toolName, out)
		}
		return out, nil
	}
}

// Close shuts down the connection and kills the subprocess.
func (s *Server) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.log.Debugw("terminating MCP server", "server", s.Name)
		return s.cmd.Process.Kill()
	}
	return nil
}

// schemaToMap converts the SDK's typed JSON schema into the plain map shape
// tool definitions carry, via a marshal round trip.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}
