package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/deixis/devpipe/internal/runner"
)

const browserTimeout = 10 * time.Second

// browserCommand returns the argv that opens url in the default browser.
func browserCommand(goos, url string) []string {
	switch goos {
	case "darwin":
		return []string{"open", url}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}
	default:
		return []string{"xdg-open", url}
	}
}

func openBrowser(ctx context.Context, r *runner.Runner, url string) error {
	argv := browserCommand(runtime.GOOS, url)
	res, err := r.Run(ctx, argv, runner.Options{Timeout: browserTimeout})
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	if !res.OK() {
		return fmt.Errorf("%s exited with code %d", argv[0], res.ExitCode)
	}
	return nil
}
