// Package devpipe runs the developer pipelines (install, test, container,
// type-check, demo, speedtest) from a single entry point.
package devpipe

// Version is the devpipe release version. Overridden at build time with
// -ldflags "-X github.com/deixis/devpipe.Version=...".
var Version = "v0.3.0-dev"
