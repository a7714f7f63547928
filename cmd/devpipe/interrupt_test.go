//go:build !windows

package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_InterruptExits130(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "npm-test.started")
	t.Setenv("DEVPIPE_TEST_MARKER", marker)
	fakeTools(t, map[string]string{
		"docker": "exit 0",
		"npm":    `[ "$1" = test ] && { : > "$DEVPIPE_TEST_MARKER"; ` + sleepForever + `; }; exit 0`,
	})

	// The marker is written after run has installed its signal handler, so
	// the interrupt never reaches the default disposition.
	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(marker); err == nil {
				_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	start := time.Now()
	code, _, stderr := runCLI(t, "start")
	require.FileExists(t, marker, "npm test never started")
	assert.Equal(t, 130, code)
	assert.Contains(t, stderr, "Interrupted by user.")
	assert.Less(t, time.Since(start), 10*time.Second)
}
