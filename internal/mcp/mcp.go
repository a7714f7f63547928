// Package mcp provides the devpipe MCP server, exposing pipeline runs and
// recent reports as tools.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/devpipe"
	"github.com/deixis/devpipe/internal/config"
	"github.com/deixis/devpipe/internal/report"
	"github.com/deixis/devpipe/internal/runner"
	"github.com/deixis/devpipe/internal/steps"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	// mu serialises runs: the container name and ports are global.
	mu      sync.Mutex
	catalog *steps.Catalog
	runner  *runner.Runner // nil when the catalog uses another CommandRunner
	store   report.Store
}

// NewServer creates an MCP server with all devpipe tools registered. r may
// be nil; when set, its workspace follows the client's first root.
func NewServer(cat *steps.Catalog, r *runner.Runner, store report.Store) *mcp.Server {
	h := &handler{catalog: cat, runner: r, store: store}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "devpipe", Version: devpipe.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "devpipe_run",
		Description: `Run a developer pipeline or a single step and return a per-step pass/fail table.

Pipelines: start, basic, all, tests. Steps: npm, build, docker, docker-clear, pyright,
demo, speedtest, stop, js-test, prod-up. Stops at the first failing step unless force=true.
The report is kept for drill-down via devpipe_report.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "devpipe_report",
		Description: "Fetch the pass/fail table of a recent devpipe_run by run_id.",
	}, h.reportHandler)

	return s
}

// updateWorkspaceFromRoots queries the client for MCP roots and rebinds the
// catalog and runner to the first file root.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path, "")
	if err != nil {
		if h.catalog.Logger != nil {
			h.catalog.Logger.Warnf("ignoring root %s: %v", u.Path, err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.catalog.Config = loaded.Config
	h.catalog.Root = loaded.Root
	if h.runner != nil {
		h.runner.Workspace = loaded.Root
		h.runner.MaxOutput = loaded.Config.MaxOutputBytes()
	}
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
