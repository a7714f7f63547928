// Package proc hides the platform split for process and process-group
// signalling. On POSIX systems a child is placed in its own process group
// and signals target the negative PID; on Windows the child is placed in a
// job object and termination goes through taskkill /T and the job.
package proc

import (
	"errors"
	"os"
	"time"
)

// ErrGone is returned when the target process or group no longer exists.
var ErrGone = os.ErrProcessDone

// WaitExit polls alive until it reports false or d elapses. It returns true
// if the process exited within d.
func WaitExit(alive func() bool, d, interval time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !alive() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// IsGone reports whether err means the target had already exited.
func IsGone(err error) bool {
	return errors.Is(err, ErrGone)
}
