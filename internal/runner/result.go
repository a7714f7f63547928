package runner

import "time"

// Exit codes with a fixed meaning across the pipeline.
const (
	ExitFailure     = 1   // start or communication failure
	ExitTimeout     = 124 // the bounded command timed out
	ExitInterrupted = 130 // the parent context was cancelled
)

// Result holds the outcome of one command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	PID       int           // process ID of the direct child, 0 if never started
	ExitCode  int           // process exit code, or one of the Exit* constants
	Stdout    []byte        // captured stdout (may be truncated); empty in live mode
	Stderr    []byte        // captured stderr (may be truncated); empty in live mode
	Truncated bool          // true if output exceeded the size cap
	TimedOut  bool          // true if the timeout fired; output may be partial
	Err       error         // start failure cause, if any
	Duration  time.Duration // wall time from start to reap
}

// OK reports whether the command exited zero.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}
