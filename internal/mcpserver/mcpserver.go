// Package mcpserver exposes the memory pipeline as Model Context Protocol
// tools over stdio, so an MCP-capable agent can ask for pre-turn context,
// recall and summaries without the HTTP gateway.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/recall"
	"github.com/flemzord/memoir/internal/summary"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolPreTurn   = "pre_turn"
	ToolRecall    = "recall"
	ToolSummarize = "summarize"
	ToolStats     = "memory_stats"
	ToolHealth    = "memory_health"
)

// Memory is the part of the facade served as tools.
type Memory interface {
	PreTurnReport(ctx context.Context, message string) facade.PreTurnReport
	Recall(ctx context.Context, message string) (recall.Result, error)
	Summarize(ctx context.Context, lookback time.Duration, dryRun bool) (summary.Result, error)
	Stats(ctx context.Context) facade.Stats
	Health(ctx context.Context) facade.HealthReport
}

// New builds an MCP server with every memory tool registered.
func New(mem Memory, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{mem: mem, logger: logger}

	s := server.NewMCPServer("memoir", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolPreTurn,
		mcp.WithDescription("Return the memory context to inject before the next model turn. Empty when there is nothing to add."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The incoming user message")),
	), h.preTurn)

	s.AddTool(mcp.NewTool(ToolRecall,
		mcp.WithDescription("Search indexed memory and recent summaries for context relevant to a message."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The message or question to recall context for")),
	), h.recall)

	s.AddTool(mcp.NewTool(ToolSummarize,
		mcp.WithDescription("Summarize recent session logs into the hourly archive."),
		mcp.WithNumber("lookback_minutes", mcp.Description("How far back to read session logs; defaults to the configured lookback")),
		mcp.WithBoolean("dry_run", mcp.Description("Build the summary without writing it")),
	), h.summarize)

	s.AddTool(mcp.NewTool(ToolStats,
		mcp.WithDescription("Report index, cache, archive and compaction statistics."),
	), h.stats)

	s.AddTool(mcp.NewTool(ToolHealth,
		mcp.WithDescription("Run the memory health probes."),
	), h.health)

	return s
}

// Serve runs s over the given streams until ctx is done or stdin closes.
func Serve(ctx context.Context, s *server.MCPServer, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s)
	if logger != nil {
		stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	}
	return stdio.Listen(ctx, stdin, stdout)
}

type handlers struct {
	mem    Memory
	logger *slog.Logger
}

func (h *handlers) preTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep := h.mem.PreTurnReport(ctx, msg)
	for _, f := range rep.Failures {
		h.logger.Warn("mcp: pre-turn stage degraded", "stage", f.Stage, "error", f.Err)
	}
	return mcp.NewToolResultText(rep.Text), nil
}

func (h *handlers) recall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.mem.Recall(ctx, msg)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("recall failed", err), nil
	}
	return mcp.NewToolResultText(res.Format()), nil
}

func (h *handlers) summarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := req.GetFloat("lookback_minutes", 0)
	if minutes < 0 {
		return mcp.NewToolResultError("lookback_minutes must not be negative"), nil
	}
	dryRun := req.GetBool("dry_run", false)

	res, err := h.mem.Summarize(ctx, time.Duration(minutes*float64(time.Minute)), dryRun)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("summarize failed", err), nil
	}
	if res.Text == "" {
		return mcp.NewToolResultText("nothing to summarize"), nil
	}
	return mcp.NewToolResultText(res.Text), nil
}

func (h *handlers) stats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.mem.Stats(ctx))
}

func (h *handlers) health(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep := h.mem.Health(ctx)
	res, err := jsonResult(rep)
	if err == nil && !rep.Healthy {
		res.IsError = true
	}
	return res, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
