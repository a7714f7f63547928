// Package steps implements the closed set of pipeline steps. Each step wraps
// one or more runner invocations with its own timeouts and failure policy,
// and reports a process-style exit code.
package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deixis/devpipe/internal/config"
	"github.com/deixis/devpipe/internal/pipeline"
	"github.com/deixis/devpipe/internal/runner"
)

// Kind identifies a step.
type Kind int

const (
	Install Kind = iota
	Build
	Docker
	DockerClear
	Pyright
	Demo
	Speedtest
	Stop
	JSTest
	ProdUp
)

// Spec describes a step kind.
type Spec struct {
	Name    string // display name in reports
	Command string // CLI command that runs the step alone
	Summary string
}

var specs = map[Kind]Spec{
	Install:     {Name: "npm", Command: "npm", Summary: "npm install, then npm test"},
	Build:       {Name: "TypeScript Build", Command: "build", Summary: "npm run build"},
	Docker:      {Name: "docker", Command: "docker", Summary: "build the image and start the service container"},
	DockerClear: {Name: "docker-clear", Command: "docker-clear", Summary: "docker with the build cache cleared"},
	Pyright:     {Name: "pyright", Command: "pyright", Summary: "static type check (skipped when not installed)"},
	Demo:        {Name: "demo", Command: "demo", Summary: "run demo.py (skipped when absent)"},
	Speedtest:   {Name: "speedtest", Command: "speedtest", Summary: "run speedtest.py (skipped when absent)"},
	Stop:        {Name: "stop", Command: "stop", Summary: "stop and remove the service container"},
	JSTest:      {Name: "js-test", Command: "js-test", Summary: "JavaScript tests via docker-compose"},
	ProdUp:      {Name: "prod-up", Command: "prod-up", Summary: "start the production compose profile"},
}

// Kinds lists every step kind in catalog order.
func Kinds() []Kind {
	return []Kind{Install, Build, Docker, DockerClear, Pyright, Demo, Speedtest, Stop, JSTest, ProdUp}
}

// Spec returns the kind's description.
func (k Kind) Spec() Spec { return specs[k] }

func (k Kind) String() string {
	if s, ok := specs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a CLI command to a step kind.
func ParseKind(command string) (Kind, bool) {
	for _, k := range Kinds() {
		if specs[k].Command == command {
			return k, true
		}
	}
	return 0, false
}

// Options are the per-invocation switches shared by every step.
type Options struct {
	Verbose bool // stream child output live instead of capturing it
	Debug   bool // re-run timed-out tests without a timeout
	NoCache bool // clear the container build cache
	Follow  bool // tail production logs after prod-up
}

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, opts runner.Options) (*runner.Result, error)
}

// PortManager frees ports before the service binds them.
// Implemented by portman.Manager.
type PortManager interface {
	EnsureFree(ctx context.Context, port int, label string) bool
	Reclaim(ctx context.Context, port int) bool
}

// Catalog binds step kinds to their collaborators.
type Catalog struct {
	Config  *config.Config
	Runner  CommandRunner
	Ports   PortManager
	Logger  logrus.FieldLogger
	Options Options

	// Root is the project root; relative paths resolve against it.
	Root string
	// Stdout and Stderr receive surfaced child output. Default os.Stdout
	// and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// LookPath resolves binaries. Default exec.LookPath.
	LookPath func(string) (string, error)
	// Ready probes the service URL after the container starts.
	// Default WaitReady.
	Ready func(ctx context.Context, url string, d time.Duration) bool
	// Warmup bounds the readiness probe. Default DefaultWarmup.
	Warmup time.Duration
}

// Step binds kind to the catalog's current options.
func (c *Catalog) Step(kind Kind) pipeline.Step {
	name := kind.String()
	return pipeline.Step{Name: name, Run: func(ctx context.Context) (code int) {
		defer func() {
			if r := recover(); r != nil {
				c.logger().Errorf("step '%s' panicked: %v", name, r)
				code = runner.ExitFailure
			}
		}()
		return c.run(ctx, kind)
	}}
}

// Run executes a single step and returns its exit code.
func (c *Catalog) Run(ctx context.Context, kind Kind) int {
	return c.Step(kind).Run(ctx)
}

func (c *Catalog) run(ctx context.Context, kind Kind) int {
	switch kind {
	case Install:
		return c.npm(ctx)
	case Build:
		return c.build(ctx)
	case Docker:
		return c.docker(ctx, c.Options.NoCache)
	case DockerClear:
		return c.docker(ctx, true)
	case Pyright:
		return c.pyright(ctx)
	case Demo:
		return c.script(ctx, "demo.py", "Demo script", c.timeouts().DemoTimeout())
	case Speedtest:
		return c.script(ctx, "speedtest.py", "Speed test", c.timeouts().SpeedtestTimeout())
	case Stop:
		return c.stop(ctx)
	case JSTest:
		return c.jsTest(ctx)
	case ProdUp:
		return c.prodUp(ctx)
	}
	c.logger().Errorf("unknown step %s", kind)
	return runner.ExitFailure
}

// nodeEnv raises the V8 heap limit for the JavaScript toolchain.
var nodeEnv = []string{"NODE_OPTIONS=--max-old-space-size=4096"}

// exec runs argv and converts a rejected invocation into a failed result.
func (c *Catalog) exec(ctx context.Context, argv []string, dir string, timeout time.Duration, live bool) *runner.Result {
	opts := runner.Options{Dir: dir, Timeout: timeout, Live: live}
	switch argv[0] {
	case "npm", "node", "npx":
		opts.Env = nodeEnv
	}
	res, err := c.Runner.Run(ctx, argv, opts)
	if err != nil {
		return &runner.Result{ExitCode: runner.ExitFailure, Err: err}
	}
	if res.TimedOut {
		c.logger().Warnf("Command timed out after %s: %s", timeout, runner.Quote(argv))
	}
	return res
}

// fail reports a failed command and returns its exit code. Captured stderr
// is surfaced unless output was streamed live.
func (c *Catalog) fail(res *runner.Result, msg string) int {
	if res.ExitCode == runner.ExitInterrupted {
		c.logger().Warn("Interrupted by user.")
		return res.ExitCode
	}
	c.logger().Error(msg)
	if res.Err != nil {
		c.logger().Error(res.Err.Error())
	}
	if !c.Options.Verbose {
		c.surface(res)
	}
	return res.ExitCode
}

func (c *Catalog) surface(res *runner.Result) {
	if len(res.Stderr) > 0 {
		_, _ = c.stderr().Write(res.Stderr)
		if res.Stderr[len(res.Stderr)-1] != '\n' {
			_, _ = io.WriteString(c.stderr(), "\n")
		}
	}
}

// path resolves p against the project root.
func (c *Catalog) path(p string) string {
	if filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Catalog) exists(p string) bool {
	_, err := os.Stat(c.path(p))
	return err == nil
}

func (c *Catalog) npmDir() string {
	dir := c.Config.NPMDir()
	if info, err := os.Stat(c.path(dir)); err == nil && info.IsDir() {
		return dir
	}
	return "."
}

func (c *Catalog) hasTool(name string) bool {
	return ResolveTool(c.lookPath(), name) != nil
}

func (c *Catalog) timeouts() config.TimeoutConfig {
	return c.Config.Timeouts
}

func (c *Catalog) lookPath() func(string) (string, error) {
	if c.LookPath != nil {
		return c.LookPath
	}
	return exec.LookPath
}

func (c *Catalog) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c *Catalog) stderr() io.Writer {
	if c.Stderr != nil {
		return c.Stderr
	}
	return os.Stderr
}

func (c *Catalog) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

func heading(log logrus.FieldLogger, title string) {
	log.Info("--- " + strings.TrimSpace(title) + " ---")
}
