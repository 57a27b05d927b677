// Package mcptools exposes the narrative analyses as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ersonp/narra-core/internal/application/handlers"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

const serverName = "narra"

// Handlers are the analysis handlers the tools call into. A nil handler
// leaves its tools unregistered.
type Handlers struct {
	Arc         *handlers.ArcHandler
	Perception  *handlers.PerceptionHandler
	Irony       *handlers.IronyHandler
	Influence   *handlers.InfluenceHandler
	Centrality  *handlers.CentralityHandler
	Situation   *handlers.SituationHandler
	Themes      *handlers.ThemeHandler
	Consistency *handlers.ConsistencyHandler
	Impact      *handlers.ImpactHandler
	WhatIf      *handlers.WhatIfHandler
	Similarity  *handlers.SimilarityHandler
}

// Tool is a tool definition paired with its handler.
type Tool struct {
	Definition mcp.Tool
	Handle     server.ToolHandlerFunc
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	tools     []Tool
}

// New creates an MCP server with every tool h can serve.
func New(h Handlers, version string) *Server {
	mcpServer := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
	)

	tools := buildTools(h)
	for _, t := range tools {
		mcpServer.AddTool(t.Definition, t.Handle)
	}
	return &Server{mcpServer: mcpServer, tools: tools}
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []Tool {
	return s.tools
}

// Serve runs the server on the given streams until ctx is done or the input closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	logger := logging.From(ctx)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("MCP server listening on stdio", "tools", len(s.tools))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// respond renders a report as structured content with a JSON text fallback,
// or a tool error carrying the domain error code.
func respond(report any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	text, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encoding report", err), nil
	}
	return mcp.NewToolResultStructured(report, string(text)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", apperrors.GetCode(err), err.Error()))
}
