//go:build !windows

package proc

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetGroup makes cmd the leader of a new process group so the whole tree
// can be signalled at once.
func SetGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Group is a started child together with its descendants: the process
// group it leads.
type Group struct {
	pid int
}

// NewGroup returns the group led by pid.
func NewGroup(pid int) *Group {
	return &Group{pid: pid}
}

// Attach returns the group of a child started after SetGroup.
func Attach(cmd *exec.Cmd) (*Group, error) {
	return NewGroup(cmd.Process.Pid), nil
}

// Terminate sends SIGTERM to every process in the group.
func (g *Group) Terminate() error {
	return signal(-g.pid, unix.SIGTERM)
}

// Kill sends SIGKILL to every process in the group.
func (g *Group) Kill() error {
	return signal(-g.pid, unix.SIGKILL)
}

// Alive reports whether any process in the group exists.
func (g *Group) Alive() bool {
	return probe(-g.pid)
}

// Close releases the group. Nothing is held on POSIX.
func (g *Group) Close() error {
	return nil
}

// Terminate sends SIGTERM to a single process.
func Terminate(pid int) error {
	return signal(pid, unix.SIGTERM)
}

// Kill sends SIGKILL to a single process.
func Kill(pid int) error {
	return signal(pid, unix.SIGKILL)
}

// Alive reports whether pid exists.
func Alive(pid int) bool {
	return probe(pid)
}

func signal(target int, sig unix.Signal) error {
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return ErrGone
	}
	return err
}

func probe(target int) bool {
	err := unix.Kill(target, 0)
	// EPERM: exists but owned by someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}
