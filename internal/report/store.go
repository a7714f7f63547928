// Package report keeps recent pipeline reports so they can be fetched again
// by run ID. Reports live only as long as the process.
package report

import (
	"errors"
	"fmt"

	"github.com/deixis/devpipe/internal/pipeline"
)

// ErrNotFound is returned when no report is stored under a run ID.
var ErrNotFound = errors.New("report not found")

// Store saves and retrieves pipeline reports.
type Store interface {
	Save(rep *pipeline.Report) error
	Load(runID string) (*pipeline.Report, error)
}

func notFound(runID string) error {
	return fmt.Errorf("run %s: %w", runID, ErrNotFound)
}
