// Package analysis owns the analysis lifecycle: submit, start, stop, execute.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/jobs"
	"github.com/stanstork/uxlens-api/internal/models"
	"github.com/stanstork/uxlens-api/internal/notification"
	"github.com/stanstork/uxlens-api/internal/repository"
	"github.com/stanstork/uxlens-api/internal/scoring"
)

// ConfigValidator checks a configuration document before it is stored.
type ConfigValidator interface {
	Validate(doc []byte) error
}

// CompletionNotifier is the slice of the notification service the manager uses.
type CompletionNotifier interface {
	NotifyAnalysisCompleted(ctx context.Context, evt notification.AnalysisCompleted) error
}

type Options struct {
	// Timeout bounds one execution. Zero disables it.
	Timeout time.Duration
}

// persistTimeout bounds status writes made after the job context is gone.
const persistTimeout = 10 * time.Second

type Manager struct {
	analyses   repository.AnalysisRepository
	projects   repository.ProjectRepository
	scorer     scoring.Scorer
	dispatcher jobs.Dispatcher
	notifier   CompletionNotifier
	validator  ConfigValidator
	opts       Options
	logger     zerolog.Logger
}

// NewManager registers the analysis job handlers on dispatcher.
func NewManager(
	analyses repository.AnalysisRepository,
	projects repository.ProjectRepository,
	scorer scoring.Scorer,
	dispatcher jobs.Dispatcher,
	notifier CompletionNotifier,
	validator ConfigValidator,
	opts Options,
	logger zerolog.Logger,
) *Manager {
	m := &Manager{
		analyses:   analyses,
		projects:   projects,
		scorer:     scorer,
		dispatcher: dispatcher,
		notifier:   notifier,
		validator:  validator,
		opts:       opts,
		logger:     logger.With().Str("component", "analysis_manager").Logger(),
	}
	dispatcher.Register(jobs.KindAnalysisRun, m.runPending)
	dispatcher.Register(jobs.KindAnalysisExecute, m.runClaimed)
	return m
}

type SubmitRequest struct {
	ProjectID     string
	AnalysisType  models.AnalysisType
	Configuration json.RawMessage
}

// Submit creates a pending analysis and schedules it. The store rejects a
// second in-flight analysis of the same type for the project.
func (m *Manager) Submit(ctx context.Context, userID string, req SubmitRequest) (models.Analysis, error) {
	if !req.AnalysisType.IsValid() {
		return models.Analysis{}, apperr.Validation("unknown analysis type %q", req.AnalysisType)
	}
	if m.validator != nil {
		if err := m.validator.Validate(req.Configuration); err != nil {
			return models.Analysis{}, err
		}
	}
	if _, err := m.activeProject(ctx, userID, req.ProjectID); err != nil {
		return models.Analysis{}, err
	}

	a, err := m.analyses.Create(ctx, models.Analysis{
		ProjectID:     req.ProjectID,
		AnalysisType:  req.AnalysisType,
		Configuration: req.Configuration,
	})
	if err != nil {
		return models.Analysis{}, err
	}

	if err := m.dispatcher.Dispatch(ctx, jobs.Job{Kind: jobs.KindAnalysisRun, ID: a.ID}); err != nil {
		m.abandon(a.ID, err, models.AnalysisStatusPending)
		return models.Analysis{}, pkgerrors.Wrap(err, "schedule analysis")
	}

	m.logger.Info().Str("analysis_id", a.ID).Str("project_id", a.ProjectID).Str("type", string(a.AnalysisType)).Msg("analysis submitted")
	return a, nil
}

// Start claims a pending or failed analysis and schedules its execution.
func (m *Manager) Start(ctx context.Context, userID, analysisID string) (models.Analysis, error) {
	a, err := m.analyses.GetForUser(ctx, userID, analysisID)
	if err != nil {
		return models.Analysis{}, err
	}
	switch a.Status {
	case models.AnalysisStatusRunning:
		return models.Analysis{}, apperr.ConflictWithStatus(string(a.Status), "analysis is already running")
	case models.AnalysisStatusCompleted:
		return models.Analysis{}, apperr.ConflictWithStatus(string(a.Status), "analysis has already completed")
	}

	claimed, ok, err := m.analyses.Claim(ctx, analysisID, models.AnalysisStatusPending, models.AnalysisStatusFailed)
	if err != nil {
		return models.Analysis{}, err
	}
	if !ok {
		return models.Analysis{}, apperr.Conflict("analysis can no longer be started")
	}

	if err := m.dispatcher.Dispatch(ctx, jobs.Job{Kind: jobs.KindAnalysisExecute, ID: claimed.ID}); err != nil {
		m.abandon(claimed.ID, err, models.AnalysisStatusRunning)
		return models.Analysis{}, pkgerrors.Wrap(err, "schedule analysis")
	}

	m.logger.Info().Str("analysis_id", claimed.ID).Msg("analysis started")
	return claimed, nil
}

// Stop fails a running analysis and cancels its execution.
func (m *Manager) Stop(ctx context.Context, userID, analysisID string) error {
	a, err := m.analyses.GetForUser(ctx, userID, analysisID)
	if err != nil {
		return err
	}
	if a.Status != models.AnalysisStatusRunning {
		return apperr.ConflictWithStatus(string(a.Status), "analysis is not running")
	}

	ok, err := m.analyses.Fail(ctx, analysisID, models.StoppedByUserMessage, models.AnalysisStatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("analysis finished before it could be stopped")
	}

	if err := m.dispatcher.Cancel(ctx, analysisID); err != nil {
		m.logger.Warn().Err(err).Str("analysis_id", analysisID).Msg("failed to cancel analysis job")
	}
	m.logger.Info().Str("analysis_id", analysisID).Msg("analysis stopped")
	return nil
}

// GetResults returns the scored results of a completed analysis. Any other
// status is a conflict that carries the current status.
func (m *Manager) GetResults(ctx context.Context, userID, analysisID string) (models.AnalysisResults, error) {
	a, err := m.analyses.GetForUser(ctx, userID, analysisID)
	if err != nil {
		return models.AnalysisResults{}, err
	}
	if a.Status != models.AnalysisStatusCompleted || a.Score == nil {
		return models.AnalysisResults{}, apperr.ConflictWithStatus(string(a.Status), "analysis is %s", a.Status)
	}

	project, err := m.projects.Get(ctx, a.ProjectID)
	if err != nil {
		return models.AnalysisResults{}, err
	}
	return models.AnalysisResults{
		AnalysisID:   a.ID,
		AnalysisType: a.AnalysisType,
		Score:        *a.Score,
		Results:      a.Results,
		CompletedAt:  a.CompletedAt,
		Project:      models.ProjectRef{ID: project.ID, Name: project.Name, URL: project.URL},
	}, nil
}

func (m *Manager) Delete(ctx context.Context, userID, analysisID string) error {
	a, err := m.analyses.GetForUser(ctx, userID, analysisID)
	if err != nil {
		return err
	}
	if a.Status == models.AnalysisStatusRunning {
		return apperr.ConflictWithStatus(string(a.Status), "a running analysis cannot be deleted")
	}
	ok, err := m.analyses.Delete(ctx, userID, analysisID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("analysis could not be deleted")
	}
	if a.Status == models.AnalysisStatusPending {
		if err := m.dispatcher.Cancel(ctx, analysisID); err != nil {
			m.logger.Warn().Err(err).Str("analysis_id", analysisID).Msg("failed to cancel analysis job")
		}
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, userID, analysisID string) (models.Analysis, error) {
	return m.analyses.GetForUser(ctx, userID, analysisID)
}

func (m *Manager) List(ctx context.Context, userID, projectID string, limit, offset int) ([]models.Analysis, error) {
	if _, err := m.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return m.analyses.ListByProject(ctx, projectID, limit, offset)
}

// runPending is the job behind Submit.
func (m *Manager) runPending(ctx context.Context, analysisID string) error {
	a, ok, err := m.analyses.Claim(ctx, analysisID, models.AnalysisStatusPending)
	if err != nil {
		return pkgerrors.Wrap(err, "claim analysis")
	}
	if !ok {
		m.logger.Debug().Str("analysis_id", analysisID).Msg("analysis already claimed, skipping")
		return nil
	}
	return m.execute(ctx, a)
}

// runClaimed is the job behind Start, which claimed the analysis itself.
func (m *Manager) runClaimed(ctx context.Context, analysisID string) error {
	a, err := m.analyses.GetByID(ctx, analysisID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.Status != models.AnalysisStatusRunning {
		m.logger.Debug().Str("analysis_id", analysisID).Str("status", string(a.Status)).Msg("analysis no longer running, skipping")
		return nil
	}
	return m.execute(ctx, a)
}

// execute scores a running analysis and records the outcome. Writes are
// conditional on running, so a concurrent Stop always wins.
func (m *Manager) execute(ctx context.Context, a models.Analysis) error {
	log := m.logger.With().Str("analysis_id", a.ID).Str("type", string(a.AnalysisType)).Logger()

	project, err := m.projects.Get(ctx, a.ProjectID)
	if err != nil {
		return m.recordFailure(ctx, a.ID, fmt.Sprintf("project lookup failed: %v", err))
	}

	runCtx := ctx
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	res, err := m.scorer.Score(runCtx, scoring.Descriptor{
		AnalysisID:    a.ID,
		AnalysisType:  a.AnalysisType,
		ProjectID:     project.ID,
		ProjectName:   project.Name,
		ProjectURL:    project.URL,
		Configuration: a.Configuration,
	})
	if err == nil && (res.Score < 0 || res.Score > 100) {
		err = fmt.Errorf("score %d is outside [0,100]", res.Score)
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			log.Info().Msg("analysis execution cancelled")
			return m.recordFailure(ctx, a.ID, "Analysis was interrupted before completing")
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			log.Warn().Dur("timeout", m.opts.Timeout).Msg("analysis timed out")
			return m.recordFailure(ctx, a.ID, fmt.Sprintf("Analysis timed out after %s", m.opts.Timeout))
		default:
			log.Warn().Err(err).Msg("analysis failed")
			return m.recordFailure(ctx, a.ID, err.Error())
		}
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	ok, err := m.analyses.Complete(writeCtx, a.ID, res.Score, res.Document)
	if err != nil {
		log.Error().Err(err).Msg("failed to record analysis result")
		if failErr := m.recordFailure(ctx, a.ID, "Analysis result could not be saved"); failErr != nil {
			log.Error().Err(failErr).Msg("failed to record analysis failure")
		}
		return pkgerrors.Wrap(err, "complete analysis")
	}
	if !ok {
		log.Info().Msg("analysis no longer running, result discarded")
		return nil
	}
	log.Info().Int("score", res.Score).Msg("analysis completed")

	if m.notifier != nil {
		err := m.notifier.NotifyAnalysisCompleted(writeCtx, notification.AnalysisCompleted{
			UserID:       project.UserID,
			AnalysisID:   a.ID,
			ProjectID:    project.ID,
			ProjectName:  project.Name,
			AnalysisType: a.AnalysisType,
			Score:        res.Score,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to send completion notification")
		}
	}
	return nil
}

// recordFailure fails the analysis if it is still running. A stopped analysis
// already carries its own message and is left alone.
func (m *Manager) recordFailure(ctx context.Context, analysisID, msg string) error {
	writeCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := m.analyses.Fail(writeCtx, analysisID, msg, models.AnalysisStatusRunning); err != nil {
		return pkgerrors.Wrap(err, "record analysis failure")
	}
	return nil
}

// abandon fails an analysis whose job could not be scheduled.
func (m *Manager) abandon(analysisID string, cause error, from models.AnalysisStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	msg := fmt.Sprintf("Analysis could not be scheduled: %v", cause)
	if _, err := m.analyses.Fail(ctx, analysisID, msg, from); err != nil {
		m.logger.Error().Err(err).Str("analysis_id", analysisID).Msg("failed to mark unscheduled analysis")
	}
}

func (m *Manager) activeProject(ctx context.Context, userID, projectID string) (models.Project, error) {
	p, err := m.ownedProject(ctx, userID, projectID)
	if err != nil {
		return p, err
	}
	if !p.IsActive() {
		return models.Project{}, apperr.NotFound("project not found or not active")
	}
	return p, nil
}

func (m *Manager) ownedProject(ctx context.Context, userID, projectID string) (models.Project, error) {
	p, err := m.projects.Get(ctx, projectID)
	if err != nil {
		return models.Project{}, err
	}
	if p.UserID != userID || p.Status == models.ProjectStatusDeleted {
		return models.Project{}, apperr.NotFound("project not found")
	}
	return p, nil
}

// detached keeps ctx values but survives its cancellation, for final writes.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
