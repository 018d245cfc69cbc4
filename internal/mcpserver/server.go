// Package mcpserver exposes the edit pipeline as MCP (Model Context
// Protocol) tools over stdio, so agent clients can drive edits directly.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sitemend/sitemend/internal/pipeline"
)

// Server wraps the MCP server with sitemend tools.
type Server struct {
	mcp *server.MCPServer
	svc *pipeline.Service
}

// New creates an MCP server with all pipeline tools registered.
func New(svc *pipeline.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"sitemend",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("submit_edit",
		mcp.WithDescription("Submit a natural-language edit instruction for a project's document. "+
			"Returns a unified diff, a summary, and a validation report; the edit stays pending until applied."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The edit instruction, e.g. 'make the navbar darker'")),
		mcp.WithString("html", mcp.Description("Full document HTML; required only when the project has no index yet")),
	), s.submitEdit)

	s.mcp.AddTool(mcp.NewTool("apply_edit",
		mcp.WithDescription("Apply a pending edit: marks it applied and persists the patched document."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("edit_id", mcp.Required(), mcp.Description("Edit identifier returned by submit_edit")),
	), s.applyEdit)

	s.mcp.AddTool(mcp.NewTool("revert_edit",
		mcp.WithDescription("Discard a pending edit without touching the document."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("edit_id", mcp.Required(), mcp.Description("Edit identifier returned by submit_edit")),
	), s.revertEdit)

	s.mcp.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("List a project's edits, newest first."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of edits to return")),
	), s.getHistory)

	s.mcp.AddTool(mcp.NewTool("reindex_project",
		mcp.WithDescription("Rebuild the project's section index from the given document, replacing the stored one."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project identifier")),
		mcp.WithString("html", mcp.Required(), mcp.Description("Full document HTML")),
	), s.reindexProject)

	s.mcp.AddTool(mcp.NewTool("get_metrics",
		mcp.WithDescription("Read the deployment-wide edit metrics: totals, cost, average latency."),
	), s.getMetrics)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) submitEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.SubmitEdit(ctx, pipeline.SubmitRequest{
		ProjectID: projectID,
		UserID:    userID,
		Prompt:    prompt,
		HTML:      req.GetString("html", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) applyEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	editID, err := req.RequireString("edit_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.ApplyEdit(ctx, projectID, editID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"success": true}), nil
}

func (s *Server) revertEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	editID, err := req.RequireString("edit_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.RevertEdit(ctx, projectID, editID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"success": true}), nil
}

func (s *Server) getHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)

	edits, err := s.svc.History(ctx, projectID, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(edits), nil
}

func (s *Server) reindexProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	html, err := req.RequireString("html")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	idx, err := s.svc.Reindex(ctx, projectID, html)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"project_id":   idx.ProjectID,
		"sections":     idx.SectionNames(),
		"style_system": idx.StyleSystem,
	}), nil
}

func (s *Server) getMetrics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.svc.Metrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m), nil
}
