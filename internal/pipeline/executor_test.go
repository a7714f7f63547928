package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/devpipe/internal/console"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, code int) Step {
	return Step{Name: name, Run: func(context.Context) int {
		r.calls = append(r.calls, name)
		return code
	}}
}

func newExecutor() *Executor {
	return &Executor{Logger: console.Discard()}
}

func TestRun_AllPass(t *testing.T) {
	rec := &recorder{}
	def := Definition{Name: "start", Steps: []Step{rec.step("npm", 0), rec.step("pyright", 0), rec.step("demo", 0)}}

	rep := newExecutor().Run(context.Background(), def, false)
	assert.True(t, rep.Success())
	assert.Equal(t, 0, rep.ExitCode())
	assert.Equal(t, []string{"npm", "pyright", "demo"}, rec.calls)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "start", rep.Pipeline)
}

func TestRun_FailFast(t *testing.T) {
	rec := &recorder{}
	def := Definition{Name: "p", Steps: []Step{rec.step("a", 1), rec.step("b", 0)}}

	rep := newExecutor().Run(context.Background(), def, false)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, StepResult{Name: "a", ExitCode: 1, Duration: rep.Results[0].Duration}, rep.Results[0])
	assert.Equal(t, []string{"a"}, rec.calls)
	assert.False(t, rep.Success())
	assert.Equal(t, 1, rep.ExitCode())
}

func TestRun_ForceContinues(t *testing.T) {
	rec := &recorder{}
	def := Definition{Name: "p", Steps: []Step{rec.step("a", 1), rec.step("b", 0)}}

	rep := newExecutor().Run(context.Background(), def, true)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, 1, rep.Results[0].ExitCode)
	assert.Equal(t, 0, rep.Results[1].ExitCode)
	assert.False(t, rep.Success(), "a forced failure still fails the pipeline")
	assert.Len(t, rep.Failed(), 1)
}

func TestRun_CancelStopsBeforeNextStep(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	def := Definition{Name: "p", Steps: []Step{
		{Name: "a", Run: func(context.Context) int {
			rec.calls = append(rec.calls, "a")
			cancel()
			return 130
		}},
		rec.step("b", 0),
	}}

	rep := newExecutor().Run(ctx, def, true)
	assert.Equal(t, []string{"a"}, rec.calls, "force does not survive an interrupt")
	require.Len(t, rep.Results, 1)
	assert.Equal(t, 130, rep.Results[0].ExitCode)
}

func TestReport_SuccessRequiresAllSteps(t *testing.T) {
	rep := &Report{Expected: 2, Results: []StepResult{{Name: "a"}}}
	assert.False(t, rep.Success())

	rep.Results = append(rep.Results, StepResult{Name: "b"})
	assert.True(t, rep.Success())

	assert.True(t, (&Report{Expected: 0}).Success(), "an empty pipeline succeeds")
}

func TestReport_Summary(t *testing.T) {
	rep := &Report{
		ID:       "run-1",
		Pipeline: "all",
		Expected: 3,
		Results: []StepResult{
			{Name: "npm"},
			{Name: "docker", ExitCode: 124},
		},
	}
	want := "Pipeline \"all\" (run run-1)\n" +
		"  npm     0s     PASS\n" +
		"  docker  0s     FAIL (exit code 124)\n" +
		"  1 step(s) not run\n" +
		"Result: FAIL\n"
	assert.Equal(t, want, rep.Summary())
}
