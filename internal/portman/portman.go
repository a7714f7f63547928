// Package portman checks TCP port availability and reclaims ports held by
// stale development processes.
//
// Only processes whose command line matches the allowlist are ever
// signalled. Availability checks are inherently racy: a port reported free
// may be taken before the caller binds it.
package portman

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/proc"
)

// Timing defaults.
const (
	DefaultKillWait = 5 * time.Second
	DefaultSettle   = 2 * time.Second
	DefaultPoll     = 100 * time.Millisecond
)

// DefaultAllow lists command-line fragments of processes that may be
// terminated to free a port.
var DefaultAllow = []string{"python", "node", "npm", "uv", "app.py"}

// Ownership describes the process listening on a port.
type Ownership struct {
	Port    int
	PID     int // 0 when unknown
	Name    string
	Cmdline string
}

func (o Ownership) String() string {
	desc := o.Name
	if o.Cmdline != "" {
		desc = o.Cmdline
	}
	if desc == "" {
		desc = "unknown"
	}
	return fmt.Sprintf("%s (pid %d)", desc, o.PID)
}

// Lookup enumerates listening sockets and resolves process command lines.
type Lookup interface {
	Listeners(ctx context.Context, port int) ([]Ownership, error)
	Cmdline(ctx context.Context, pid int) string
}

// Signaller delivers termination signals to single processes.
type Signaller interface {
	Terminate(pid int) error
	Kill(pid int) error
	Alive(pid int) bool
}

// Manager resolves port conflicts.
type Manager struct {
	Lookup Lookup
	Signal Signaller
	Allow  []string
	Logger logrus.FieldLogger

	KillWait time.Duration
	Settle   time.Duration
	Poll     time.Duration

	// Probe overrides IsFree. Used by tests.
	Probe func(port int) bool
}

// New returns a Manager wired to the host's socket tools and process
// signals. The running binary's own name joins the allowlist.
func New(logger logrus.FieldLogger) *Manager {
	allow := append([]string(nil), DefaultAllow...)
	if exe, err := os.Executable(); err == nil {
		name := strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
		if name != "" {
			allow = append(allow, strings.ToLower(name))
		}
	}
	return &Manager{
		Lookup:   &SystemLookup{},
		Signal:   ProcessSignaller{},
		Allow:    allow,
		Logger:   logger,
		KillWait: DefaultKillWait,
		Settle:   DefaultSettle,
		Poll:     DefaultPoll,
	}
}

// IsFree reports whether localhost:port can be bound right now. The
// listener is closed immediately.
func IsFree(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindOwner returns the first process listening on port, or nil when none
// can be identified. Missing tools or permissions are not errors.
func (m *Manager) FindOwner(ctx context.Context, port int) *Ownership {
	owners := m.listeners(ctx, port)
	if len(owners) == 0 {
		return nil
	}
	return &owners[0]
}

// EnsureFree makes sure port is available for label. A free port returns
// true without any lookups or signals. An allowlisted owner is terminated;
// any other owner leaves the port untouched and returns false.
func (m *Manager) EnsureFree(ctx context.Context, port int, label string) bool {
	if m.isFree(port) {
		return true
	}
	log := m.logger().WithField("port", port)
	log.Warnf("Port %d is already in use by another process", port)

	owner := m.FindOwner(ctx, port)
	if owner == nil {
		log.Errorf("Could not identify the process using port %d; free it manually before starting %s", port, label)
		return false
	}
	log.Warnf("Process using port %d: %s", port, owner)

	if !m.Allowed(*owner) {
		log.Errorf("Port %d is in use by %s", port, owner)
		log.Infof("Stop this process or choose a different port for %s", label)
		return false
	}

	log.Info("Found development process. Attempting to terminate it...")
	if !m.terminate(ctx, owner.PID) {
		return false
	}
	m.sleep(ctx, m.Settle)
	return true
}

// Reclaim terminates every allowlisted listener on port. It returns true if
// at least one process was terminated and none was refused.
func (m *Manager) Reclaim(ctx context.Context, port int) bool {
	owners := m.listeners(ctx, port)
	if len(owners) == 0 {
		m.logger().Warnf("No listener found on port %d to reclaim", port)
		return false
	}

	freed, refused := 0, false
	for _, o := range owners {
		if !m.Allowed(o) {
			m.logger().Errorf("Refusing to terminate %s holding port %d", o, port)
			refused = true
			continue
		}
		if m.terminate(ctx, o.PID) {
			freed++
		}
	}
	if freed > 0 {
		m.sleep(ctx, m.Settle)
	}
	return freed > 0 && !refused
}

// Allowed reports whether o may be terminated. Matching is a
// case-insensitive substring test on the process name and the first three
// command-line words.
func (m *Manager) Allowed(o Ownership) bool {
	words := strings.Fields(o.Cmdline)
	if len(words) > 3 {
		words = words[:3]
	}
	subject := strings.ToLower(o.Name + " " + strings.Join(words, " "))
	for _, a := range m.allow() {
		if a != "" && strings.Contains(subject, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// terminate asks pid to exit, waits up to KillWait, then force-kills it.
// A process that is already gone counts as terminated.
func (m *Manager) terminate(ctx context.Context, pid int) bool {
	log := m.logger().WithField("pid", pid)

	if err := m.Signal.Terminate(pid); err != nil {
		if errors.Is(err, proc.ErrGone) {
			log.Infof("Process %d was already terminated", pid)
			return true
		}
		log.Warnf("Terminating process %d: %v", pid, err)
	}
	if m.waitExit(ctx, pid, m.KillWait) {
		console.Success(log, "Successfully terminated process %d", pid)
		return true
	}

	log.Warnf("Process %d didn't terminate gracefully. Force killing...", pid)
	if err := m.Signal.Kill(pid); err != nil && !errors.Is(err, proc.ErrGone) {
		log.Errorf("Killing process %d: %v", pid, err)
		return false
	}
	return true
}

func (m *Manager) waitExit(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !m.Signal.Alive(pid) {
			return true
		}
		if !time.Now().Before(deadline) || ctx.Err() != nil {
			return false
		}
		m.sleep(ctx, m.poll())
	}
}

func (m *Manager) listeners(ctx context.Context, port int) []Ownership {
	owners, err := m.Lookup.Listeners(ctx, port)
	if err != nil {
		m.logger().Debugf("listing listeners on port %d: %v", port, err)
		return nil
	}
	for i := range owners {
		owners[i].Port = port
		if owners[i].Cmdline == "" && owners[i].PID > 0 {
			owners[i].Cmdline = m.Lookup.Cmdline(ctx, owners[i].PID)
		}
	}
	return owners
}

func (m *Manager) isFree(port int) bool {
	if m.Probe != nil {
		return m.Probe(port)
	}
	return IsFree(port)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (m *Manager) allow() []string {
	if m.Allow != nil {
		return m.Allow
	}
	return DefaultAllow
}

func (m *Manager) poll() time.Duration {
	if m.Poll > 0 {
		return m.Poll
	}
	return DefaultPoll
}

func (m *Manager) logger() logrus.FieldLogger {
	if m.Logger != nil {
		return m.Logger
	}
	return logrus.StandardLogger()
}

// ProcessSignaller signals real processes.
type ProcessSignaller struct{}

func (ProcessSignaller) Terminate(pid int) error { return proc.Terminate(pid) }
func (ProcessSignaller) Kill(pid int) error      { return proc.Kill(pid) }
func (ProcessSignaller) Alive(pid int) bool      { return proc.Alive(pid) }
