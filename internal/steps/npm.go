package steps

import (
	"context"

	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/runner"
)

// npm installs dependencies then runs the test suite. A test timeout is a
// failure; in debug mode the suite is re-run once without a timeout and
// that run's exit code is final.
func (c *Catalog) npm(ctx context.Context) int {
	log := c.logger().WithField("step", Install.String())
	heading(log, "Running npm install and tests")
	dir := c.npmDir()
	live := c.Options.Verbose

	log.Info("Installing npm dependencies...")
	res := c.exec(ctx, []string{"npm", "install"}, dir, c.timeouts().InstallTimeout(), live)
	if !res.OK() {
		return c.fail(res, "npm install failed.")
	}
	console.Success(log, "Dependencies installed.")

	log.Info("Running npm tests...")
	timeout := c.timeouts().TestTimeout()
	res = c.exec(ctx, []string{"npm", "test"}, dir, timeout, live)
	if !live {
		log.Debugf("npm test completed with exit code %d (%d bytes stdout, %d bytes stderr)",
			res.ExitCode, len(res.Stdout), len(res.Stderr))
	}

	if res.ExitCode == runner.ExitTimeout {
		log.Errorf("npm tests timed out (%s). This is considered a failure.", timeout)
		if !c.Options.Debug {
			return runner.ExitTimeout
		}
		log.Info("Debug mode: re-running tests without timeout to see full output...")
		res = c.exec(ctx, []string{"npm", "test"}, dir, 0, false)
		c.surface(res)
		if !res.OK() {
			log.Errorf("npm tests failed on the unbounded re-run (exit code %d).", res.ExitCode)
			return res.ExitCode
		}
		console.Success(log, "NPM tests passed without a timeout; the suite is slow, not broken.")
		return 0
	}
	if !res.OK() {
		return c.fail(res, "npm tests failed.")
	}
	console.Success(log, "NPM tests passed.")
	return 0
}

// build compiles the TypeScript sources.
func (c *Catalog) build(ctx context.Context) int {
	log := c.logger().WithField("step", Build.String())
	heading(log, "Building TypeScript sources")
	res := c.exec(ctx, []string{"npm", "run", "build"}, c.npmDir(), c.timeouts().BuildTimeout(), c.Options.Verbose)
	if !res.OK() {
		return c.fail(res, "TypeScript build failed.")
	}
	console.Success(log, "TypeScript build completed.")
	return 0
}
