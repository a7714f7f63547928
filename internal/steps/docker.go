package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/runner"
)

// Fixed timeouts for container housekeeping commands.
const (
	stopTimeout  = 15 * time.Second
	rmTimeout    = 10 * time.Second
	pruneTimeout = 60 * time.Second
)

// containerPort is where the service listens inside the image. The
// configured port only moves the host side of the mapping.
const containerPort = 3000

// portConflictSignatures identify a container start that failed because the
// published port is taken.
var portConflictSignatures = []string{
	"port is already allocated",
	"Bind for",
	"address already in use",
}

func isPortConflict(stderr []byte) bool {
	s := string(stderr)
	for _, sig := range portConflictSignatures {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}

// docker rebuilds the image and starts the service container. Any previous
// container with the same name is removed first, whether or not it exists.
func (c *Catalog) docker(ctx context.Context, clearCache bool) int {
	log := c.logger().WithField("step", Docker.String())
	heading(log, "Building and running Docker container")
	cfg := c.Config
	name, image, port := cfg.Container(), cfg.Image(), cfg.Port()
	live := c.Options.Verbose

	log.Infof("Checking for and stopping existing container '%s'...", name)
	c.removeContainer(ctx, name, false)

	if clearCache {
		log.Info("Clearing Docker build cache...")
		c.exec(ctx, []string{"docker", "builder", "prune", "-f"}, "", pruneTimeout, false)
	}

	log.Infof("Building Docker image '%s'...", image)
	build := []string{"docker", "build"}
	if clearCache {
		build = append(build, "--no-cache")
	}
	build = append(build, "-t", image, cfg.BuildContext())
	res := c.exec(ctx, build, "", c.timeouts().DockerBuildTimeout(), live)
	if !res.OK() {
		return c.fail(res, "Docker build failed.")
	}
	console.Success(log, "Docker image built.")

	if !c.Ports.EnsureFree(ctx, port, "the service container") {
		log.Errorf("Cannot start container '%s': port %d is in use. Stop the process holding it or set 'port' in config.yaml.", name, port)
		return runner.ExitFailure
	}

	log.Infof("Running Docker container '%s'...", name)
	run := []string{
		"docker", "run", "-d", "--name", name,
		"-p", fmt.Sprintf("%d:%d", port, containerPort),
		"-v", c.storageMount(),
		image,
	}
	// Captured even in verbose mode: stderr decides whether to retry.
	res = c.exec(ctx, run, "", c.timeouts().DockerRunTimeout(), false)
	if !res.OK() && res.ExitCode != runner.ExitInterrupted && isPortConflict(res.Stderr) {
		log.Warnf("Port %d is still held. Reclaiming it and retrying once...", port)
		c.surface(res)
		c.Ports.Reclaim(ctx, port)
		// The failed run leaves a created container holding the name.
		c.exec(ctx, []string{"docker", "rm", name}, "", rmTimeout, false)
		res = c.exec(ctx, run, "", c.timeouts().DockerRunTimeout(), false)
	}
	if !res.OK() {
		return c.fail(res, "Docker run failed.")
	}
	if live {
		_, _ = c.stdout().Write(res.Stdout)
	}

	url := cfg.URL()
	warmup := c.warmup()
	log.Infof("Waiting up to %s for the container to answer at %s...", warmup, url)
	if c.ready()(ctx, url, warmup) {
		console.Success(log, "Container '%s' is running on port %d.", name, port)
	} else {
		log.Warnf("Container '%s' started but %s did not answer within %s; it may still be initializing.", name, url, warmup)
	}
	return 0
}

// stop removes the service container. Cleanup is idempotent and never
// fails the pipeline.
func (c *Catalog) stop(ctx context.Context) int {
	log := c.logger().WithField("step", Stop.String())
	name := c.Config.Container()
	heading(log, fmt.Sprintf("Stopping container '%s'", name))

	if c.removeContainer(ctx, name, c.Options.Verbose) {
		console.Success(log, "Container '%s' stopped and removed.", name)
	} else {
		log.Infof("Container '%s' was not running or could not be removed.", name)
	}
	return 0
}

// removeContainer stops and removes name, ignoring failures. It reports
// whether either command succeeded.
func (c *Catalog) removeContainer(ctx context.Context, name string, live bool) bool {
	stopped := c.exec(ctx, []string{"docker", "stop", name}, "", stopTimeout, live)
	removed := c.exec(ctx, []string{"docker", "rm", name}, "", rmTimeout, live)
	return stopped.OK() || removed.OK()
}

func (c *Catalog) storageMount() string {
	dir := c.path(c.Config.StorageDir())
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir + ":/app/local-storage"
}

func (c *Catalog) warmup() time.Duration {
	if c.Warmup > 0 {
		return c.Warmup
	}
	return DefaultWarmup
}

func (c *Catalog) ready() func(context.Context, string, time.Duration) bool {
	if c.Ready != nil {
		return c.Ready
	}
	return WaitReady
}
