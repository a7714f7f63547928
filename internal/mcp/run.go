package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/devpipe/internal/pipeline"
	"github.com/deixis/devpipe/internal/report"
	"github.com/deixis/devpipe/internal/steps"
)

type runParams struct {
	Target  string `json:"target,omitempty" jsonschema:"Pipeline (start, basic, all, tests) or single step (npm, build, docker, docker-clear, pyright, demo, speedtest, stop, js-test, prod-up). Defaults to start."`
	Force   bool   `json:"force,omitempty" jsonschema:"Continue with the next step after a failure."`
	NoCache bool   `json:"no_cache,omitempty" jsonschema:"Clear the container build cache before building."`
	Debug   bool   `json:"debug,omitempty" jsonschema:"Re-run timed-out npm tests once without a timeout."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	target := params.Target
	if target == "" {
		target = "start"
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if missing := h.catalog.MissingTools(); len(missing) > 0 {
		msgs := make([]string, len(missing))
		for i, m := range missing {
			msgs[i] = m.Error()
		}
		return errorResult(strings.Join(msgs, "\n\n"))
	}

	// Output is always captured: stdout may be the MCP transport.
	cat := *h.catalog
	cat.Options = steps.Options{Debug: params.Debug, NoCache: params.NoCache}

	def, ok := cat.Definition(target)
	if !ok {
		return errorResult(fmt.Sprintf("unknown target %q. Valid targets: %s", target, strings.Join(steps.Targets(), ", ")))
	}

	exec := &pipeline.Executor{Logger: cat.Logger}
	rep := exec.Run(ctx, def, params.Force)
	if err := h.store.Save(rep); err != nil && cat.Logger != nil {
		cat.Logger.Warnf("saving report %s: %v", rep.ID, err)
	}

	return textResult(formatRun(rep))
}

func formatRun(rep *pipeline.Report) string {
	var b strings.Builder
	b.WriteString(rep.Summary())
	fmt.Fprintf(&b, "\nFetch again with devpipe_report(run_id=%q).\n", rep.ID)
	return b.String()
}

type reportParams struct {
	RunID string `json:"run_id" jsonschema:"Run ID returned by devpipe_run."`
}

func (h *handler) reportHandler(ctx context.Context, req *mcp.CallToolRequest, params reportParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	rep, err := h.store.Load(params.RunID)
	if errors.Is(err, report.ErrNotFound) {
		return errorResult(fmt.Sprintf("Run %s not found. Only recent runs of this server are kept.", params.RunID))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("loading run %s: %v", params.RunID, err))
	}
	return textResult(rep.Summary())
}
