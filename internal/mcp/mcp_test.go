package mcp

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/devpipe/internal/config"
	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/pipeline"
	"github.com/deixis/devpipe/internal/report"
	"github.com/deixis/devpipe/internal/runner"
	"github.com/deixis/devpipe/internal/steps"
)

// fakeRunner fails any command whose first two words are in fail.
type fakeRunner struct {
	fail  map[string]int
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ runner.Options) (*runner.Result, error) {
	f.calls = append(f.calls, argv)
	key := argv[0]
	if len(argv) > 1 {
		key += " " + argv[1]
	}
	return &runner.Result{ExitCode: f.fail[key]}, nil
}

type okPorts struct{}

func (okPorts) EnsureFree(context.Context, int, string) bool { return true }
func (okPorts) Reclaim(context.Context, int) bool            { return true }

func newCatalog(t *testing.T, r steps.CommandRunner, tools ...string) *steps.Catalog {
	t.Helper()
	return &steps.Catalog{
		Config: config.Default(),
		Runner: r,
		Ports:  okPorts{},
		Logger: console.Discard(),
		Root:   t.TempDir(),
		LookPath: func(name string) (string, error) {
			for _, tool := range tools {
				if tool == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", errors.New("not found")
		},
		Ready: func(context.Context, string, time.Duration) bool { return true },
	}
}

// setup creates a devpipe MCP server + client over in-memory transports.
func setup(t *testing.T, cat *steps.Catalog) *mcp.ClientSession {
	t.Helper()
	return setupWithStore(t, cat, report.NewLRUStore(5))
}

func setupWithStore(t *testing.T, cat *steps.Catalog, store report.Store) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer(cat, nil, store)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var runIDRe = regexp.MustCompile(`run_id="([^"]+)"`)

func TestListTools(t *testing.T) {
	cs := setup(t, newCatalog(t, &fakeRunner{}, "docker", "npm"))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"devpipe_run", "devpipe_report"}, names)
}

func TestDevpipeRun_ThenReport(t *testing.T) {
	fr := &fakeRunner{}
	cs := setup(t, newCatalog(t, fr, "docker", "npm"))

	res := callTool(t, cs, "devpipe_run", map[string]any{"target": "stop"})
	require.False(t, res.IsError, resultText(res))
	text := resultText(res)
	assert.Contains(t, text, `Pipeline "stop"`)
	assert.Contains(t, text, "Result: PASS")
	assert.Equal(t, [][]string{{"docker", "stop", "reader-instance"}, {"docker", "rm", "reader-instance"}}, fr.calls)

	m := runIDRe.FindStringSubmatch(text)
	require.Len(t, m, 2, text)

	res = callTool(t, cs, "devpipe_report", map[string]any{"run_id": m[1]})
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), m[1])
}

func TestDevpipeRun_DefaultPipelineFailure(t *testing.T) {
	fr := &fakeRunner{fail: map[string]int{"npm test": 1}}
	cs := setup(t, newCatalog(t, fr, "docker", "npm"))

	res := callTool(t, cs, "devpipe_run", map[string]any{})
	require.False(t, res.IsError, "a failing pipeline is a result, not a tool error")
	text := resultText(res)
	assert.Contains(t, text, `Pipeline "start"`)
	assert.Contains(t, text, "FAIL (exit code 1)")
	assert.Contains(t, text, "2 step(s) not run")
}

func TestDevpipeRun_Force(t *testing.T) {
	fr := &fakeRunner{fail: map[string]int{"npm test": 1}}
	cs := setup(t, newCatalog(t, fr, "docker", "npm"))

	res := callTool(t, cs, "devpipe_run", map[string]any{"target": "basic", "force": true})
	text := resultText(res)
	assert.NotContains(t, text, "not run")
	assert.Contains(t, text, "Result: FAIL")
}

func TestDevpipeRun_UnknownTarget(t *testing.T) {
	cs := setup(t, newCatalog(t, &fakeRunner{}, "docker", "npm"))

	res := callTool(t, cs, "devpipe_run", map[string]any{"target": "deploy"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), `unknown target "deploy"`)
}

func TestDevpipeRun_MissingTools(t *testing.T) {
	fr := &fakeRunner{}
	cs := setup(t, newCatalog(t, fr, "npm"))

	res := callTool(t, cs, "devpipe_run", map[string]any{"target": "stop"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "docker is required but not installed.")
	assert.Empty(t, fr.calls)
}

func TestDevpipeReport_Unknown(t *testing.T) {
	cs := setup(t, newCatalog(t, &fakeRunner{}, "docker", "npm"))

	res := callTool(t, cs, "devpipe_report", map[string]any{"run_id": "missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not found")

	res = callTool(t, cs, "devpipe_report", map[string]any{"run_id": ""})
	assert.True(t, res.IsError)
}

type failingStore struct{}

func (failingStore) Save(*pipeline.Report) error { return errors.New("disk full") }
func (failingStore) Load(string) (*pipeline.Report, error) {
	return nil, report.ErrNotFound
}

func TestRun_StoreFailureIsLogged(t *testing.T) {
	var out, errOut bytes.Buffer
	off := false
	cat := newCatalog(t, &fakeRunner{}, "docker", "npm")
	cat.Logger = console.New(console.Options{Out: &out, ErrOut: &errOut, Color: &off})
	cs := setupWithStore(t, cat, failingStore{})

	res := callTool(t, cs, "devpipe_run", map[string]any{"target": "stop"})
	assert.False(t, res.IsError, "the run itself succeeded")
	assert.Contains(t, out.String(), "[WARN] saving report")
	assert.Contains(t, out.String(), "disk full")
}
