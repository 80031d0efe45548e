// Package jobs schedules detached background work for analyses and reports.
package jobs

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	// KindAnalysisRun claims a pending analysis and executes it.
	KindAnalysisRun Kind = "analysis-run"
	// KindAnalysisExecute executes an analysis that was already claimed by Start.
	KindAnalysisExecute Kind = "analysis-execute"
	KindReportGenerate  Kind = "report-generate"
)

// Job identifies one unit of background work. ID is the entity id and doubles
// as the cancellation key.
type Job struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (j Job) String() string {
	return fmt.Sprintf("%s/%s", j.Kind, j.ID)
}

// Handler runs a job. ctx is cancelled when the job is cancelled or the
// dispatcher shuts down.
type Handler func(ctx context.Context, id string) error

var (
	ErrUnknownKind = errors.New("jobs: no handler registered for kind")
	ErrStopped     = errors.New("jobs: dispatcher is shut down")
)

type Dispatcher interface {
	Register(kind Kind, h Handler)
	// Dispatch schedules job without waiting for it to run.
	Dispatch(ctx context.Context, job Job) error
	// Cancel stops the job running or queued under id. Unknown ids are ignored.
	Cancel(ctx context.Context, id string) error
	Shutdown(ctx context.Context) error
}
