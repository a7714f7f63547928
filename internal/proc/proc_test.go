//go:build !windows

package proc

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitExit(t *testing.T) {
	n := 0
	assert.True(t, WaitExit(func() bool { n++; return n < 3 }, time.Second, time.Millisecond))
	assert.False(t, WaitExit(func() bool { return true }, 20*time.Millisecond, 5*time.Millisecond))
}

func TestGroupSignals(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	SetGroup(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	g, err := Attach(cmd)
	require.NoError(t, err)
	defer g.Close()

	assert.True(t, g.Alive())
	assert.True(t, Alive(pid))
	require.NoError(t, g.Terminate())
	_ = cmd.Wait()

	assert.False(t, g.Alive())
	assert.True(t, IsGone(g.Kill()))
	assert.True(t, IsGone(Kill(pid)))
}

func TestGroupKill_OutlivesLeader(t *testing.T) {
	// The leader exits at once, leaving a member of its group behind.
	cmd := exec.Command("sh", "-c", "sleep 30 >/dev/null 2>&1 & echo $!")
	SetGroup(cmd)
	out, err := cmd.Output()
	require.NoError(t, err)
	member, err := strconv.Atoi(strings.TrimSpace(string(out)))
	require.NoError(t, err)

	g := NewGroup(cmd.Process.Pid)
	assert.True(t, g.Alive(), "background member still running")
	require.NoError(t, g.Kill())
	assert.Eventually(t, func() bool { return !running(member) }, 2*time.Second, 10*time.Millisecond)
}

// running treats zombies as exited; the reaper may be slow in containers.
func running(pid int) bool {
	if !Alive(pid) {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	s := string(stat)
	i := strings.LastIndexByte(s, ')')
	return i < 0 || i+2 >= len(s) || s[i+2] != 'Z'
}
