// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes a project's change history to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/history"
)

// Default periods used when a tool call leaves "days" out.
const (
	DefaultVelocityDays = 7
	DefaultTimelineDays = 30
)

const guideURI = "devpulse://history-guide"

// Server wraps the MCP server with devpulse history tools.
type Server struct {
	mcp     *server.MCPServer
	history *history.Service
}

// New creates a new MCP server with all history tools registered.
func New(svc *history.Service, version string) *Server {
	s := &Server{history: svc}

	s.mcp = server.NewMCPServer(
		"devpulse",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_changes",
		mcp.WithDescription("List recorded changes of the project, newest first."),
		mcp.WithString("since", mcp.Description("Only changes at or after this RFC 3339 timestamp")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of changes (default: all)")),
	), s.listChanges)

	s.mcp.AddTool(mcp.NewTool("get_change",
		mcp.WithDescription("Get one change with its per-file details."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Change ID")),
	), s.getChange)

	s.mcp.AddTool(mcp.NewTool("change_summary",
		mcp.WithDescription("Totals over the whole history: change count, lines added and removed, changes per category."),
	), s.changeSummary)

	s.mcp.AddTool(mcp.NewTool("file_hotspots",
		mcp.WithDescription("Files ranked by how many changes touched them."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of files (default: 10)")),
	), s.fileHotspots)

	s.mcp.AddTool(mcp.NewTool("technical_debt",
		mcp.WithDescription("Open technical-debt findings from the latest scan."),
	), s.technicalDebt)

	s.mcp.AddTool(mcp.NewTool("velocity",
		mcp.WithDescription("Development velocity over the last N days."),
		mcp.WithNumber("days", mcp.Description("Period in days (default: 7)")),
	), s.velocity)

	s.mcp.AddTool(mcp.NewTool("activity_timeline",
		mcp.WithDescription("Number of changes per day over the last N days."),
		mcp.WithNumber("days", mcp.Description("Period in days (default: 30)")),
	), s.activityTimeline)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Change History Guide",
			mcp.WithResourceDescription("How devpulse classifies and records changes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

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

// intArg reads a numeric argument. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, def int) (int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return int(f), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var since time.Time
	if raw := req.GetString("since", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("since must be an RFC 3339 timestamp"), nil
		}
		since = t
	}
	limit, err := intArg(req, "limit", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.history.ListChanges(ctx, since, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(changes)
}

func (s *Server) getChange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := req.GetArguments()["id"]; !ok {
		return mcp.NewToolResultError("id is required"), nil
	}
	id, err := intArg(req, "id", 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.history.GetChange(ctx, int64(id))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("change %d not found", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) changeSummary(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.history.Summary(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summary)
}

func (s *Server) fileHotspots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := intArg(req, "limit", history.DefaultHotspotLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	spots, err := s.history.Hotspots(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(spots)
}

func (s *Server) technicalDebt(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.history.OpenDebt(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no technical debt found"), nil
	}
	return jsonResult(items)
}

func (s *Server) velocity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days, err := intArg(req, "days", DefaultVelocityDays)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.history.Velocity(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v)
}

func (s *Server) activityTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days, err := intArg(req, "days", DefaultTimelineDays)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeline, err := s.history.ActivityTimeline(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(timeline)
}

func (s *Server) readGuideResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     HistoryGuide,
		},
	}, nil
}
