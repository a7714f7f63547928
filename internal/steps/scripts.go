package steps

import (
	"context"
	"strings"
	"time"

	"github.com/deixis/devpipe/internal/console"
)

// pyright type-checks the project. A missing pyright skips the step.
func (c *Catalog) pyright(ctx context.Context) int {
	log := c.logger().WithField("step", Pyright.String())
	heading(log, "Running Pyright static type checker")
	if !c.hasTool("pyright") {
		log.Warn(NewErrToolUnavailable("pyright").Error() + "\nSkipping.")
		return 0
	}

	res := c.exec(ctx, []string{"pyright"}, "", c.timeouts().PyrightTimeout(), c.Options.Verbose)
	if !res.OK() {
		return c.fail(res, "Pyright checks failed.")
	}
	console.Success(log, "Pyright checks passed.")
	return 0
}

// script runs a Python script from the project root through uv when
// available. A missing script skips the step.
func (c *Catalog) script(ctx context.Context, file, label string, timeout time.Duration) int {
	log := c.logger().WithField("step", strings.TrimSuffix(file, ".py"))
	heading(log, "Running "+file)
	if !c.exists(file) {
		log.Warnf("%s not found; skipping.", file)
		return 0
	}

	argv := []string{"python", file}
	if c.hasTool("uv") {
		argv = []string{"uv", "run", "python", file}
	}
	res := c.exec(ctx, argv, "", timeout, c.Options.Verbose)
	if !res.OK() {
		return c.fail(res, label+" failed.")
	}
	console.Success(log, "%s completed successfully.", label)
	return 0
}
