// Package pipeline runs an ordered list of named steps and aggregates their
// exit codes into a report.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deixis/devpipe/internal/console"
)

// Step is one named unit of work. Run returns a process-style exit code.
type Step struct {
	Name string
	Run  func(ctx context.Context) int
}

// Definition is a named, ordered list of steps.
type Definition struct {
	Name  string
	Steps []Step
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	Name     string
	ExitCode int
	Duration time.Duration
}

// OK reports whether the step exited zero.
func (r StepResult) OK() bool { return r.ExitCode == 0 }

// Report aggregates the results of one pipeline run in execution order.
type Report struct {
	ID       string
	Pipeline string
	Expected int // number of steps in the definition
	Results  []StepResult
	Started  time.Time
	Duration time.Duration
}

// Success is true iff every defined step ran and exited zero.
func (r *Report) Success() bool {
	if len(r.Results) != r.Expected {
		return false
	}
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Failed returns the results with a non-zero exit code.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode maps the report onto a CLI exit code: 0 on success, 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// Summary renders a per-step pass/fail table.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %q (run %s)\n", r.Pipeline, r.ID)
	width := 0
	for _, res := range r.Results {
		width = max(width, len(res.Name))
	}
	for _, res := range r.Results {
		status := "PASS"
		if !res.OK() {
			status = fmt.Sprintf("FAIL (exit code %d)", res.ExitCode)
		}
		fmt.Fprintf(&b, "  %-*s  %-6s %s\n", width, res.Name, console.Elapsed(res.Duration), status)
	}
	if skipped := r.Expected - len(r.Results); skipped > 0 {
		fmt.Fprintf(&b, "  %d step(s) not run\n", skipped)
	}
	if r.Success() {
		b.WriteString("Result: PASS\n")
	} else {
		b.WriteString("Result: FAIL\n")
	}
	return b.String()
}

// Executor runs pipeline definitions.
type Executor struct {
	Logger logrus.FieldLogger
}

// Run executes def's steps in order. Without force the first non-zero
// result stops the pipeline; with force the failure is recorded and the
// next step runs. A cancelled context stops the pipeline after the
// in-flight step.
func (e *Executor) Run(ctx context.Context, def Definition, force bool) *Report {
	log := e.logger()
	rep := &Report{
		ID:       uuid.New().String(),
		Pipeline: def.Name,
		Expected: len(def.Steps),
		Started:  time.Now(),
	}
	defer func() { rep.Duration = time.Since(rep.Started) }()

	for _, step := range def.Steps {
		if ctx.Err() != nil {
			log.Warnf("Pipeline %q interrupted before step '%s'", def.Name, step.Name)
			return rep
		}

		start := time.Now()
		code := step.Run(ctx)
		rep.Results = append(rep.Results, StepResult{
			Name:     step.Name,
			ExitCode: code,
			Duration: time.Since(start),
		})
		if code == 0 {
			continue
		}

		log.Errorf("Pipeline failed at step: '%s' (exit code %d).", step.Name, code)
		if ctx.Err() != nil {
			return rep
		}
		if !force {
			return rep
		}
		log.Warn("'--force' is active. Continuing to next step...")
	}
	return rep
}

// LogSummary writes one line per recorded step through the console logger.
func LogSummary(log logrus.FieldLogger, rep *Report) {
	log.Info("--- Pipeline Summary ---")
	for _, res := range rep.Results {
		if res.OK() {
			console.Success(log, "%s: Passed (%s)", res.Name, console.Elapsed(res.Duration))
		} else {
			log.Errorf("%s: Failed (exit code %d)", res.Name, res.ExitCode)
		}
	}
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}
