package steps

import (
	"context"
	"time"

	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/runner"
)

// Ports and timeouts used by the compose profiles.
const (
	jsServerPort  = 3000
	pyServicePort = 5000
	prodPort      = 80

	jsTestTimeout   = 300 * time.Second
	composeDownTime = 60 * time.Second
	prodUpTimeout   = 600 * time.Second
)

// compose returns the compose argv prefix: docker-compose when installed,
// otherwise the docker compose plugin.
func (c *Catalog) compose(args ...string) []string {
	if c.hasTool("docker-compose") {
		return append([]string{"docker-compose"}, args...)
	}
	return append([]string{"docker", "compose"}, args...)
}

// jsTest runs the JavaScript test container of the dev profile.
func (c *Catalog) jsTest(ctx context.Context) int {
	log := c.logger().WithField("step", JSTest.String())
	heading(log, "Running JavaScript tests")

	if !c.Ports.EnsureFree(ctx, jsServerPort, "JS server") {
		log.Errorf("Cannot run JS tests - port %d is in use.", jsServerPort)
		return runner.ExitFailure
	}
	if !c.Ports.EnsureFree(ctx, pyServicePort, "Python service") {
		log.Errorf("Cannot run JS tests - port %d is in use.", pyServicePort)
		return runner.ExitFailure
	}

	res := c.exec(ctx, c.compose("--profile", "dev", "run", "--rm", "js-test"), "", jsTestTimeout, c.Options.Verbose)
	if !res.OK() {
		return c.fail(res, "JavaScript tests failed.")
	}
	console.Success(log, "JavaScript tests passed.")
	return 0
}

// prodUp rebuilds and starts the production profile, optionally tailing
// the server logs until interrupted.
func (c *Catalog) prodUp(ctx context.Context) int {
	log := c.logger().WithField("step", ProdUp.String())
	heading(log, "Starting PRODUCTION environment")

	if !c.Ports.EnsureFree(ctx, prodPort, "Production server") {
		log.Errorf("Cannot start production - port %d is in use.", prodPort)
		return runner.ExitFailure
	}

	log.Info("Stopping any existing services...")
	c.exec(ctx, c.compose("down", "--remove-orphans"), "", composeDownTime, false)

	log.Info("Building and starting production services...")
	res := c.exec(ctx, c.compose("--profile", "prod", "up", "--build", "-d"), "", prodUpTimeout, c.Options.Verbose)
	if !res.OK() {
		return c.fail(res, "Failed to start production environment.")
	}
	console.Success(log, "Production environment started.")

	if c.Options.Follow {
		log.Info("Tailing logs... (Press Ctrl+C to stop)")
		c.exec(ctx, c.compose("logs", "-f", "server"), "", 0, true)
	}
	return 0
}
