// Package runner provides safe command execution with workspace bounds,
// timeouts, process-tree teardown and output size limits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deixis/devpipe/internal/proc"
)

// DefaultGrace is the interval between the graceful terminate and the
// forced kill of a timed-out process tree.
const DefaultGrace = time.Second

// ErrNotArgv is returned when a command is not a discrete argument vector.
var ErrNotArgv = errors.New("command must be an argument vector")

// Options configures a single Run.
type Options struct {
	Dir     string        // relative to the workspace; must remain within it
	Timeout time.Duration // zero means no timeout
	Live    bool          // stream to the runner's writers instead of capturing
	Env     []string      // appended to the inherited environment
}

// Runner executes commands within a workspace boundary.
type Runner struct {
	Workspace string
	MaxOutput int // bytes per stream; <= 0 means unbounded
	Grace     time.Duration

	Stdout io.Writer // live-mode stdout, default os.Stdout
	Stderr io.Writer // live-mode stderr, default os.Stderr
	Logger logrus.FieldLogger
}

// Run executes argv. The first element is the binary name (resolved via
// PATH), and the rest are arguments.
//
// The returned error is non-nil only when argv or opts.Dir is rejected
// before anything is spawned. Every later failure, including a binary that
// cannot be started, is reported through the Result.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if err := validateArgv(argv); err != nil {
		return nil, err
	}
	dir, err := r.resolveDir(opts.Dir)
	if err != nil {
		return nil, err
	}

	r.logger().Debugf("running: %s", Quote(argv))

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res := &Result{RunID: uuid.New().String()}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	proc.SetGroup(cmd)

	// Set once the child starts; Cancel may race with Attach.
	var group atomic.Pointer[proc.Group]
	groupOf := func() *proc.Group {
		if g := group.Load(); g != nil {
			return g
		}
		return proc.NewGroup(cmd.Process.Pid)
	}

	// Escalation runs before exec's WaitDelay backstop kills the root
	// alone, so the tree is still reachable from it.
	var cancelledAt atomic.Int64
	var escalate atomic.Pointer[time.Timer]
	cmd.Cancel = func() error {
		cancelledAt.Store(time.Now().UnixNano())
		g := groupOf()
		escalate.Store(time.AfterFunc(r.grace(), func() {
			if g.Alive() {
				_ = g.Kill()
			}
		}))
		return g.Terminate()
	}
	cmd.WaitDelay = 2 * r.grace()

	var stdout, stderr limitWriter
	if opts.Live {
		cmd.Stdout = r.stdout()
		cmd.Stderr = r.stderr()
	} else {
		stdout.limit = r.MaxOutput
		stderr.limit = r.MaxOutput
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if cmd.Process != nil {
			_ = proc.NewGroup(cmd.Process.Pid).Kill()
		}
		res.ExitCode = ExitFailure
		res.Err = fmt.Errorf("starting %s: %w", argv[0], err)
		res.Duration = time.Since(start)
		return res, nil
	}
	res.PID = cmd.Process.Pid

	g, err := proc.Attach(cmd)
	if err != nil {
		r.logger().Debugf("tracking %s as a tree: %v", argv[0], err)
	}
	group.Store(g)
	defer g.Close()

	waitErr := cmd.Wait()
	res.Duration = time.Since(start)
	if t := escalate.Load(); t != nil {
		t.Stop()
	}

	if at := cancelledAt.Load(); at != 0 {
		r.reap(g, time.Unix(0, at).Add(r.grace()))
		switch {
		case ctx.Err() != nil:
			res.ExitCode = ExitInterrupted
		default:
			res.ExitCode = ExitTimeout
			res.TimedOut = true
		}
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
		res.Truncated = stdout.Truncated() || stderr.Truncated()
		return res, nil
	}

	res.ExitCode = exitCode(cmd, waitErr)
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		r.logger().Debugf("%s exited but a background process kept its output open", argv[0])
	}
	res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	return res, nil
}

// reap waits out what is left of the grace interval for the group to exit
// on its own, then force-kills whatever remains.
func (r *Runner) reap(g *proc.Group, deadline time.Time) {
	if !proc.WaitExit(g.Alive, time.Until(deadline), 50*time.Millisecond) {
		if err := g.Kill(); err != nil && !proc.IsGone(err) {
			r.logger().Warnf("killing process group: %v", err)
		}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		// Killed by a signal nobody here sent.
		return ExitFailure
	}
	if err != nil {
		return ExitFailure
	}
	return 0
}

// validateArgv rejects empty vectors and pre-joined shell command strings.
func validateArgv(argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return fmt.Errorf("%w: empty argv", ErrNotArgv)
	}
	if len(argv) == 1 && strings.ContainsAny(argv[0], " \t\n") {
		if _, err := os.Stat(argv[0]); err != nil {
			return fmt.Errorf("%w: %q looks like a shell command line", ErrNotArgv, argv[0])
		}
	}
	return nil
}

// resolveDir resolves dir relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if r.Workspace == "" {
		return cwd, nil
	}
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

func (r *Runner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return DefaultGrace
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

// Quote renders argv as a shell-pasteable line for logs.
func Quote(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`|&;<>()*?[]#~") {
			parts[i] = a
			continue
		}
		parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(parts, " ")
}

// limitWriter buffers up to limit bytes, then silently discards the rest.
// exec copies each stream on its own goroutine, so writes are guarded.
type limitWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = len(p) > 0 || w.truncated
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Bytes()
}

func (w *limitWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
