// Package worker resumes jobs that an in-process dispatcher lost on restart.
package worker

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/jobs"
	"github.com/stanstork/uxlens-api/internal/models"
)

// InterruptedMessage is recorded on analyses that were running when the
// previous process exited.
const InterruptedMessage = "Analysis was interrupted by a server restart"

type AnalysisStore interface {
	ListIDsByStatus(ctx context.Context, status models.AnalysisStatus) ([]string, error)
	Fail(ctx context.Context, analysisID, errorMessage string, from ...models.AnalysisStatus) (bool, error)
}

type ReportStore interface {
	ListIDsByStatus(ctx context.Context, status models.ReportStatus) ([]string, error)
}

type Recovery struct {
	Requeued    int
	Interrupted int
}

type Worker struct {
	analyses   AnalysisStore
	reports    ReportStore
	dispatcher jobs.Dispatcher
	logger     zerolog.Logger
}

func NewWorker(analyses AnalysisStore, reports ReportStore, dispatcher jobs.Dispatcher, logger zerolog.Logger) *Worker {
	return &Worker{
		analyses:   analyses,
		reports:    reports,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "recovery").Logger(),
	}
}

// Recover runs once before the server accepts requests. Running analyses
// cannot be resumed mid-way and are failed; pending analyses and generating
// reports are dispatched again.
func (w *Worker) Recover(ctx context.Context) (Recovery, error) {
	var rec Recovery

	running, err := w.analyses.ListIDsByStatus(ctx, models.AnalysisStatusRunning)
	if err != nil {
		return rec, errors.Wrap(err, "list running analyses")
	}
	for _, id := range running {
		ok, err := w.analyses.Fail(ctx, id, InterruptedMessage, models.AnalysisStatusRunning)
		if err != nil {
			return rec, errors.Wrapf(err, "fail interrupted analysis %s", id)
		}
		if ok {
			rec.Interrupted++
		}
	}

	pending, err := w.analyses.ListIDsByStatus(ctx, models.AnalysisStatusPending)
	if err != nil {
		return rec, errors.Wrap(err, "list pending analyses")
	}
	for _, id := range pending {
		if err := w.dispatch(ctx, jobs.Job{Kind: jobs.KindAnalysisRun, ID: id}); err != nil {
			return rec, err
		}
		rec.Requeued++
	}

	generating, err := w.reports.ListIDsByStatus(ctx, models.ReportStatusGenerating)
	if err != nil {
		return rec, errors.Wrap(err, "list generating reports")
	}
	for _, id := range generating {
		if err := w.dispatch(ctx, jobs.Job{Kind: jobs.KindReportGenerate, ID: id}); err != nil {
			return rec, err
		}
		rec.Requeued++
	}

	if rec.Requeued > 0 || rec.Interrupted > 0 {
		w.logger.Info().Int("requeued", rec.Requeued).Int("interrupted", rec.Interrupted).Msg("recovered orphaned jobs")
	}
	return rec, nil
}

func (w *Worker) dispatch(ctx context.Context, job jobs.Job) error {
	if err := w.dispatcher.Dispatch(ctx, job); err != nil {
		return errors.Wrapf(err, "requeue %s", job)
	}
	return nil
}
