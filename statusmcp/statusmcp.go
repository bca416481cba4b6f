// Package statusmcp is the operator-facing status/inspection surface: a
// separate MCP server exposing read-only tools (pool_status,
// pool_readiness) over the pool snapshot the running proxy publishes via
// statusws. It never touches the LSP data path, so it cannot violate the
// proxy's own LSP-transparent pass-through behavior.
package statusmcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/K-dash/pyright-lsp-proxy/dispatcher"
)

// SnapshotSource fetches one point-in-time pool snapshot. Satisfied by
// *WebsocketSource in production; tests supply a fake.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (dispatcher.PoolSnapshot, error)
}

// readiness mirrors the teacher's own LSPStatus shape (Ready/State plus a
// per-entry breakdown), translated from "connected LSP clients" to "pooled
// backends".
type readiness struct {
	Ready   bool               `json:"ready"`
	State   string             `json:"state"`
	Total   int                `json:"total"`
	Warming int                `json:"warming"`
	Entries []backendReadiness `json:"entries"`
}

type backendReadiness struct {
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// NewServer builds the MCP server, registering its two tools against
// source.
func NewServer(source SnapshotSource) *server.MCPServer {
	s := server.NewMCPServer(
		"pyright-lsp-proxy-status",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("pool_status",
		mcp.WithDescription("Report the full backend pool snapshot: every pooled pyright-langserver instance, its warming/ready state, and pending request counts."),
		mcp.WithDestructiveHintAnnotation(false),
	), poolStatusHandler(source))

	s.AddTool(mcp.NewTool("pool_readiness",
		mcp.WithDescription("Report whether the backend pool is ready to serve requests, and which environments are still warming up."),
		mcp.WithDestructiveHintAnnotation(false),
	), poolReadinessHandler(source))

	return s
}

func poolStatusHandler(source SnapshotSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := source.Snapshot(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func poolReadinessHandler(source SnapshotSource) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := source.Snapshot(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		r := buildReadiness(snap)
		payload, err := json.Marshal(r)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func buildReadiness(snap dispatcher.PoolSnapshot) readiness {
	r := readiness{State: "empty", Entries: make([]backendReadiness, 0, len(snap.Entries))}
	if len(snap.Entries) == 0 {
		return r
	}

	r.Total = len(snap.Entries)
	for _, e := range snap.Entries {
		r.Entries = append(r.Entries, backendReadiness{Environment: e.Environment, Status: e.Status})
		if e.Status == "warming" {
			r.Warming++
		}
	}

	switch {
	case r.Warming == r.Total:
		r.State = "warming"
	case r.Warming > 0:
		r.State = "mixed"
	default:
		r.State = "ready"
		r.Ready = true
	}
	return r
}
