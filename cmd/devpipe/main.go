// Command devpipe runs the developer pipelines (install and test, container
// build and run, type check, demo, speedtest) from a single entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/deixis/devpipe"
	"github.com/deixis/devpipe/internal/config"
	"github.com/deixis/devpipe/internal/console"
	"github.com/deixis/devpipe/internal/pipeline"
	"github.com/deixis/devpipe/internal/portman"
	"github.com/deixis/devpipe/internal/runner"
	"github.com/deixis/devpipe/internal/steps"
)

// Exit codes not produced by a step.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	verbose  bool
	debug    bool
	force    bool
	noCache  bool
	follow   bool
	url      string
	config   string
	logLevel string
	http     string
}

func run(args []string, stdout, stderr io.Writer) (code int) {
	var f flags
	fs := pflag.NewFlagSet("devpipe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&f.verbose, "verbose", false, "show live command output")
	fs.BoolVar(&f.debug, "debug", false, "re-run timed-out npm tests without a timeout for detailed output")
	fs.BoolVar(&f.force, "force", false, "continue the pipeline even if some steps fail")
	fs.BoolVar(&f.noCache, "no-cache", false, "disable the Docker build cache")
	fs.BoolVar(&f.follow, "follow", false, "tail production server logs after prod-up")
	fs.StringVar(&f.url, "url", "", "URL to open on success (default: url from config.yaml, else "+config.DefaultURL+")")
	fs.StringVar(&f.config, "config", "", "path to the config file (default: "+config.FileName+" found upward from the working directory)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.http, "http", "", "mcp: serve over HTTP on this address (e.g. :9090) instead of stdio")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(stderr, "devpipe: expected one command, got %q\n", fs.Args())
		usage(stderr, fs)
		return exitUsage
	}
	command := "start"
	if fs.NArg() == 1 {
		command = fs.Arg(0)
	}

	switch command {
	case "version":
		fmt.Fprintln(stdout, devpipe.Version)
		return exitOK
	case "help":
		usage(stdout, fs)
		return exitOK
	}

	level, err := logrus.ParseLevel(f.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "devpipe: %v\n", err)
		return exitUsage
	}

	workspace, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "devpipe: determining workspace: %v\n", err)
		return exitFailure
	}
	loaded, loadErr := config.Load(workspace, f.config)
	if loadErr != nil {
		loaded = &config.LoadResult{Config: config.Default(), Root: workspace}
	}
	cfg := loaded.Config

	// In MCP stdio mode stdout carries the protocol.
	logOut := stdout
	if command == "mcp" {
		logOut = stderr
	}
	log := console.New(console.Options{Out: logOut, ErrOut: stderr, Level: level, Prefix: cfg.LogPrefix})
	if loadErr != nil {
		log.Warnf("Could not load config: %v. Using defaults.", loadErr)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("An unexpected error occurred: %v", r)
			code = exitFailure
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner.Runner{
		Workspace: loaded.Root,
		MaxOutput: cfg.MaxOutputBytes(),
		Stdout:    stdout,
		Stderr:    stderr,
		Logger:    log,
	}
	cat := &steps.Catalog{
		Config: cfg,
		Runner: r,
		Ports:  portman.New(log),
		Logger: log,
		Root:   loaded.Root,
		Stdout: stdout,
		Stderr: stderr,
		Options: steps.Options{
			Verbose: f.verbose,
			Debug:   f.debug,
			NoCache: f.noCache,
			Follow:  f.follow,
		},
	}

	if command == "mcp" {
		// Child output must never reach the transport.
		r.Stdout = stderr
		cat.Stdout = stderr
		if err := serveMCP(ctx, cat, r, f.http, log); err != nil {
			log.Error(err.Error())
			return exitFailure
		}
		return exitOK
	}

	def, ok := cat.Definition(command)
	if !ok {
		fmt.Fprintf(stderr, "devpipe: unknown command %q\n", command)
		usage(stderr, fs)
		return exitUsage
	}

	if missing := cat.MissingTools(); len(missing) > 0 {
		log.Error("Missing required tools: 'docker' and 'npm' must be in your PATH.")
		for _, m := range missing {
			log.Error(m.Error())
		}
		return exitUsage
	}

	exec := &pipeline.Executor{Logger: log}
	if _, isPipeline := cat.Pipeline(command); !isPipeline {
		code = runStep(ctx, exec, def)
	} else {
		url := f.url
		if url == "" {
			url = cfg.URL()
		}
		code = runPipeline(ctx, exec, def, f.force, url, r, log)
	}

	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "\nInterrupted by user.")
		return runner.ExitInterrupted
	}
	return code
}

// runStep runs a single-step command and propagates the step's exit code.
func runStep(ctx context.Context, exec *pipeline.Executor, def pipeline.Definition) int {
	rep := exec.Run(ctx, def, false)
	if len(rep.Results) == 0 {
		return runner.ExitInterrupted
	}
	return rep.Results[0].ExitCode
}

func runPipeline(ctx context.Context, exec *pipeline.Executor, def pipeline.Definition, force bool, url string, r *runner.Runner, log logrus.FieldLogger) int {
	log.Infof("Starting the '%s' pipeline...", def.Name)
	rep := exec.Run(ctx, def, force)
	pipeline.LogSummary(log, rep)

	if !rep.Success() {
		log.Errorf("Pipeline '%s' failed (run %s).", def.Name, rep.ID)
		return exitFailure
	}
	console.Success(log, "Pipeline completed successfully!")
	if def.Name == "all" {
		log.Info("Container is running. To stop it later, run: devpipe stop")
		log.Infof("Opening browser at %s", url)
		if err := openBrowser(ctx, r, url); err != nil {
			log.Warnf("Could not open a browser: %v", err)
		}
	}
	return exitOK
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, `Usage: devpipe [command] [flags]

Pipelines:
  start, basic   npm, pyright, demo (default)
  all            npm, docker, pyright, demo, speedtest; opens the service URL on success
  tests          npm, TypeScript build, pyright, docker, demo, speedtest

Steps:`)
	for _, k := range steps.Kinds() {
		spec := k.Spec()
		fmt.Fprintf(w, "  %-14s %s\n", spec.Command, spec.Summary)
	}
	fmt.Fprintln(w, `
Other commands:
  mcp            Start the MCP server (stdio, or HTTP with --http)
  version        Print the version
  help           Show this help

Flags:`)
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w, `
Exit codes: 0 success, 1 failure, 2 missing tools or usage, 124 step timed out, 130 interrupted.`)
}
