//go:build windows

package proc

import (
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// JobObjectBasicAccountingInformation, JOBOBJECTINFOCLASS 1.
const jobObjectBasicAccountingInformation = 1

// jobAccounting mirrors JOBOBJECT_BASIC_ACCOUNTING_INFORMATION.
type jobAccounting struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
}

// SetGroup starts cmd in a new process group.
func SetGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// Group is a started child together with its descendants. When attached,
// the child runs inside a job object, so descendants stay reachable after
// the root has exited. Descendants spawned before Attach are outside the
// job and only reachable through the root's tree.
type Group struct {
	pid int

	mu  sync.Mutex
	job windows.Handle
}

// NewGroup returns the tree rooted at pid, without a job object.
func NewGroup(pid int) *Group {
	return &Group{pid: pid}
}

// Attach places a started child in a new job object. Members are not
// killed when the job is closed: descendants that outlive a successful run
// (a launched browser) survive, as they do on POSIX. On failure the
// returned group still addresses the tree by its root.
func Attach(cmd *exec.Cmd) (*Group, error) {
	g := NewGroup(cmd.Process.Pid)

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return g, fmt.Errorf("creating job object: %w", err)
	}

	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(g.pid))
	if err != nil {
		windows.CloseHandle(job)
		return g, fmt.Errorf("opening process %d: %w", g.pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.AssignProcessToJobObject(job, h); err != nil {
		windows.CloseHandle(job)
		return g, fmt.Errorf("assigning process %d to job: %w", g.pid, err)
	}
	g.job = job
	return g, nil
}

// Terminate asks the tree to exit. Console programs often refuse a
// graceful taskkill; Kill follows.
func (g *Group) Terminate() error {
	return taskkill(g.pid, true, false)
}

// Kill forcibly terminates the tree: the root's descendants by walking the
// tree while the root lives, then every job member.
func (g *Group) Kill() error {
	err := taskkill(g.pid, true, true)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == 0 {
		return err
	}
	if jerr := windows.TerminateJobObject(g.job, 1); jerr != nil {
		return fmt.Errorf("terminating job: %w", jerr)
	}
	return nil
}

// Alive reports whether any job member is still running, or the root when
// no job is attached.
func (g *Group) Alive() bool {
	g.mu.Lock()
	job := g.job
	g.mu.Unlock()
	if job == 0 {
		return Alive(g.pid)
	}

	var acct jobAccounting
	if err := windows.QueryInformationJobObject(job, jobObjectBasicAccountingInformation,
		uintptr(unsafe.Pointer(&acct)), uint32(unsafe.Sizeof(acct)), nil); err != nil {
		return Alive(g.pid)
	}
	return acct.ActiveProcesses > 0
}

// Close releases the job object.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.job == 0 {
		return nil
	}
	err := windows.CloseHandle(g.job)
	g.job = 0
	return err
}

// Terminate asks a single process to exit.
func Terminate(pid int) error {
	return taskkill(pid, false, false)
}

// Kill forcibly terminates a single process.
func Kill(pid int) error {
	return taskkill(pid, false, true)
}

// Alive reports whether pid exists and has not exited.
func Alive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func taskkill(pid int, tree, force bool) error {
	if !Alive(pid) {
		return ErrGone
	}
	args := []string{"/PID", strconv.Itoa(pid)}
	if tree {
		args = append(args, "/T")
	}
	if force {
		args = append(args, "/F")
	}
	if out, err := exec.Command("taskkill", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, out)
	}
	return nil
}
