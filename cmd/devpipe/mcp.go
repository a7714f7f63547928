package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	devmcp "github.com/deixis/devpipe/internal/mcp"
	"github.com/deixis/devpipe/internal/report"
	"github.com/deixis/devpipe/internal/runner"
	"github.com/deixis/devpipe/internal/steps"
)

// recentReports bounds how many reports devpipe_report can return.
const recentReports = 20

func serveMCP(ctx context.Context, cat *steps.Catalog, r *runner.Runner, httpAddr string, log logrus.FieldLogger) error {
	cat.Options = steps.Options{}
	server := devmcp.NewServer(cat, r, report.NewLRUStore(recentReports))

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, log)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, log logrus.FieldLogger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Infof("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
