// Package report compiles completed analyses into downloadable reports.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/jobs"
	"github.com/stanstork/uxlens-api/internal/models"
	"github.com/stanstork/uxlens-api/internal/notification"
	"github.com/stanstork/uxlens-api/internal/repository"
	"github.com/stanstork/uxlens-api/internal/storage"
)

type ReadyNotifier interface {
	NotifyReportReady(ctx context.Context, evt notification.ReportReady) error
}

type Options struct {
	// Timeout bounds one generation. Zero disables it.
	Timeout time.Duration
	// Retention is how long a report stays downloadable.
	Retention time.Duration
}

const (
	persistTimeout = 10 * time.Second
	purgeBatchSize = 100
)

type Manager struct {
	reports    repository.ReportRepository
	analyses   repository.AnalysisRepository
	projects   repository.ProjectRepository
	store      storage.ArtifactStore
	dispatcher jobs.Dispatcher
	notifier   ReadyNotifier
	opts       Options
	now        func() time.Time
	logger     zerolog.Logger
}

// NewManager registers the generation job on dispatcher.
func NewManager(
	reports repository.ReportRepository,
	analyses repository.AnalysisRepository,
	projects repository.ProjectRepository,
	store storage.ArtifactStore,
	dispatcher jobs.Dispatcher,
	notifier ReadyNotifier,
	opts Options,
	logger zerolog.Logger,
) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = models.ReportRetention
	}
	m := &Manager{
		reports:    reports,
		analyses:   analyses,
		projects:   projects,
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		opts:       opts,
		now:        time.Now,
		logger:     logger.With().Str("component", "report_manager").Logger(),
	}
	dispatcher.Register(jobs.KindReportGenerate, m.generate)
	return m
}

type CreateRequest struct {
	ProjectID        string
	Name             string
	ReportType       models.ReportType
	Format           models.ReportFormat
	IncludedAnalyses []string
}

// Create validates the included analyses and schedules generation. Every id
// must be a completed analysis of the project.
func (m *Manager) Create(ctx context.Context, userID string, req CreateRequest) (models.Report, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Report{}, apperr.Validation("name is required")
	}
	if !req.ReportType.IsValid() {
		return models.Report{}, apperr.Validation("unknown report type %q", req.ReportType)
	}
	format := req.Format
	if format == "" {
		format = models.ReportFormatJSON
	}
	if !format.IsValid() {
		return models.Report{}, apperr.Validation("unknown report format %q", req.Format)
	}
	if _, err := m.project(ctx, userID, req.ProjectID, true); err != nil {
		return models.Report{}, err
	}

	ids := dedupe(req.IncludedAnalyses)
	if len(ids) > 0 {
		count, err := m.analyses.CountCompleted(ctx, req.ProjectID, ids)
		if err != nil {
			return models.Report{}, err
		}
		if count != len(ids) {
			return models.Report{}, apperr.Validation("included analyses must all be completed analyses of this project (%d of %d are)", count, len(ids))
		}
	}

	rep, err := m.reports.Create(ctx, models.Report{
		ProjectID:        req.ProjectID,
		Name:             name,
		ReportType:       req.ReportType,
		Format:           format,
		IncludedAnalyses: ids,
		ExpiresAt:        m.now().Add(m.opts.Retention),
	})
	if err != nil {
		return models.Report{}, err
	}

	if err := m.schedule(ctx, rep.ID); err != nil {
		return models.Report{}, err
	}
	m.logger.Info().Str("report_id", rep.ID).Str("project_id", rep.ProjectID).Int("analyses", len(ids)).Msg("report created")
	return rep, nil
}

// Regenerate clears a finished report and schedules generation again.
func (m *Manager) Regenerate(ctx context.Context, userID, reportID string) (models.Report, error) {
	rep, ok, err := m.reports.Reset(ctx, userID, reportID, m.now().Add(m.opts.Retention))
	if err != nil {
		return models.Report{}, err
	}
	if !ok {
		current, err := m.reports.GetForUser(ctx, userID, reportID)
		if err != nil {
			return models.Report{}, err
		}
		return models.Report{}, apperr.ConflictWithStatus(string(current.Status), "report is already generating")
	}
	if err := m.schedule(ctx, rep.ID); err != nil {
		return models.Report{}, err
	}
	return rep, nil
}

// StatusNotice answers a download of a report that has nothing to serve yet.
type StatusNotice struct {
	ReportID     string              `json:"report_id"`
	Status       models.ReportStatus `json:"status"`
	Message      string              `json:"message"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	Expired      bool                `json:"expired,omitempty"`
}

// Download is either an artifact or a StatusNotice.
type Download struct {
	Report      models.Report
	Notice      *StatusNotice
	Content     []byte
	ContentType string
	FileName    string
}

// Download serves a ready report and counts the download atomically. Reports
// that are not ready, or have expired, yield a notice and are not counted.
func (m *Manager) Download(ctx context.Context, userID, reportID string) (Download, error) {
	rep, err := m.reports.GetForUser(ctx, userID, reportID)
	if err != nil {
		return Download{}, err
	}

	if notice := m.notice(rep); notice != nil {
		return Download{Report: rep, Notice: notice}, nil
	}

	content, err := m.store.Get(ctx, *rep.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Download{}, apperr.NotFound("report file is missing; regenerate the report")
		}
		return Download{}, pkgerrors.Wrap(err, "read report artifact")
	}

	count, ok, err := m.reports.IncrementDownloads(ctx, rep.ID)
	if err != nil {
		return Download{}, err
	}
	if !ok {
		// Regenerated or deleted since it was read.
		current, err := m.reports.GetForUser(ctx, userID, reportID)
		if err != nil {
			return Download{}, err
		}
		if notice := m.notice(current); notice != nil {
			return Download{Report: current, Notice: notice}, nil
		}
		return Download{}, apperr.ConflictWithStatus(string(current.Status), "report changed during download; retry")
	}
	rep.DownloadCount = count

	return Download{
		Report:      rep,
		Content:     content,
		ContentType: rep.Format.ContentType(),
		FileName:    fileName(rep),
	}, nil
}

func (m *Manager) notice(rep models.Report) *StatusNotice {
	switch {
	case rep.Status == models.ReportStatusGenerating:
		return &StatusNotice{ReportID: rep.ID, Status: rep.Status, Message: "Report is still being generated"}
	case rep.Status == models.ReportStatusError:
		return &StatusNotice{ReportID: rep.ID, Status: rep.Status, Message: "Report generation failed", ErrorMessage: rep.ErrorMessage}
	case rep.FilePath == nil:
		return &StatusNotice{ReportID: rep.ID, Status: rep.Status, Message: "Report has no file"}
	case rep.IsExpired(m.now()):
		return &StatusNotice{ReportID: rep.ID, Status: rep.Status, Message: "Report has expired", Expired: true}
	}
	return nil
}

// BulkDelete removes every listed report, or none if any is not the caller's.
func (m *Manager) BulkDelete(ctx context.Context, userID string, reportIDs []string) (int64, error) {
	ids := dedupe(reportIDs)
	if len(ids) == 0 {
		return 0, apperr.Validation("report_ids is required")
	}

	owned, err := m.reports.ListOwned(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	if len(owned) != len(ids) {
		return 0, apperr.NotFound("%d of %d reports were not found", len(ids)-len(owned), len(ids))
	}

	for _, rep := range owned {
		if rep.Status == models.ReportStatusGenerating {
			if err := m.dispatcher.Cancel(ctx, rep.ID); err != nil {
				m.logger.Warn().Err(err).Str("report_id", rep.ID).Msg("failed to cancel report generation")
			}
		}
		m.removeArtifact(ctx, rep)
	}

	deleted, err := m.reports.DeleteMany(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	m.logger.Info().Int64("deleted", deleted).Msg("reports deleted")
	return deleted, nil
}

func (m *Manager) Get(ctx context.Context, userID, reportID string) (models.Report, error) {
	return m.reports.GetForUser(ctx, userID, reportID)
}

func (m *Manager) List(ctx context.Context, userID, projectID string, limit, offset int) ([]models.Report, error) {
	if _, err := m.project(ctx, userID, projectID, false); err != nil {
		return nil, err
	}
	return m.reports.ListByProject(ctx, projectID, limit, offset)
}

// PurgeExpired deletes expired reports and their artifacts.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	purged := 0
	for {
		expired, err := m.reports.ListExpired(ctx, m.now(), purgeBatchSize)
		if err != nil {
			return purged, err
		}
		for _, rep := range expired {
			m.removeArtifact(ctx, rep)
			if err := m.reports.DeleteByID(ctx, rep.ID); err != nil {
				return purged, err
			}
			purged++
		}
		if len(expired) < purgeBatchSize {
			break
		}
	}
	if purged > 0 {
		m.logger.Info().Int("purged", purged).Msg("expired reports purged")
	}
	return purged, nil
}

// generate is the report job.
func (m *Manager) generate(ctx context.Context, reportID string) error {
	rep, err := m.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if rep.Status != models.ReportStatusGenerating {
		return nil
	}
	log := m.logger.With().Str("report_id", rep.ID).Logger()

	runCtx := ctx
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	project, key, size, summary, err := m.build(runCtx, rep)
	if err != nil {
		msg := err.Error()
		switch {
		case ctx.Err() != nil:
			msg = "Report generation was interrupted"
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			msg = fmt.Sprintf("Report generation timed out after %s", m.opts.Timeout)
		}
		log.Warn().Err(err).Msg("report generation failed")
		return m.markError(ctx, rep.ID, msg)
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	ok, err := m.reports.MarkReady(writeCtx, rep.ID, key, size, summary)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark report ready")
		m.removeArtifact(writeCtx, models.Report{ID: rep.ID, FilePath: &key})
		if markErr := m.markError(ctx, rep.ID, "Report could not be saved"); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record report error")
		}
		return pkgerrors.Wrap(err, "mark report ready")
	}
	if !ok {
		log.Info().Msg("report no longer generating, result discarded")
		if _, err := m.reports.GetByID(writeCtx, rep.ID); errors.Is(err, apperr.ErrNotFound) {
			m.removeArtifact(writeCtx, models.Report{ID: rep.ID, FilePath: &key})
		}
		return nil
	}
	log.Info().Int64("size", size).Msg("report ready")

	if m.notifier != nil {
		err := m.notifier.NotifyReportReady(writeCtx, notification.ReportReady{
			UserID:      project.UserID,
			ReportID:    rep.ID,
			ReportName:  rep.Name,
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Format:      rep.Format,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to send report notification")
		}
	}
	return nil
}

func (m *Manager) build(ctx context.Context, rep models.Report) (models.Project, string, int64, json.RawMessage, error) {
	project, err := m.projects.Get(ctx, rep.ProjectID)
	if err != nil {
		return project, "", 0, nil, pkgerrors.Wrap(err, "load project")
	}
	analyses, err := m.analyses.ListCompletedByIDs(ctx, rep.ProjectID, rep.IncludedAnalyses)
	if err != nil {
		return project, "", 0, nil, pkgerrors.Wrap(err, "load analyses")
	}

	summary := Summarize(analyses, len(rep.IncludedAnalyses))
	content, err := Render(rep.Format, BuildDocument(rep, project, analyses, summary, m.now()))
	if err != nil {
		return project, "", 0, nil, pkgerrors.Wrap(err, "render report")
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return project, "", 0, nil, err
	}

	key := ArtifactKey(rep)
	size, err := m.store.Put(ctx, key, rep.Format.ContentType(), content)
	if err != nil {
		return project, "", 0, nil, pkgerrors.Wrap(err, "store report")
	}
	return project, key, size, summaryJSON, nil
}

func (m *Manager) schedule(ctx context.Context, reportID string) error {
	if err := m.dispatcher.Dispatch(ctx, jobs.Job{Kind: jobs.KindReportGenerate, ID: reportID}); err != nil {
		_ = m.markError(ctx, reportID, fmt.Sprintf("Report could not be scheduled: %v", err))
		return pkgerrors.Wrap(err, "schedule report")
	}
	return nil
}

func (m *Manager) markError(ctx context.Context, reportID, msg string) error {
	writeCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := m.reports.MarkError(writeCtx, reportID, msg); err != nil {
		return pkgerrors.Wrap(err, "mark report error")
	}
	return nil
}

func (m *Manager) removeArtifact(ctx context.Context, rep models.Report) {
	if rep.FilePath == nil || *rep.FilePath == "" {
		return
	}
	if err := m.store.Delete(ctx, *rep.FilePath); err != nil {
		m.logger.Warn().Err(err).Str("report_id", rep.ID).Str("path", *rep.FilePath).Msg("failed to delete report file")
	}
}

func (m *Manager) project(ctx context.Context, userID, projectID string, requireActive bool) (models.Project, error) {
	p, err := m.projects.Get(ctx, projectID)
	if err != nil {
		return models.Project{}, err
	}
	if p.UserID != userID || p.Status == models.ProjectStatusDeleted {
		return models.Project{}, apperr.NotFound("project not found")
	}
	if requireActive && !p.IsActive() {
		return models.Project{}, apperr.NotFound("project not found or not active")
	}
	return p, nil
}

// ArtifactKey is the storage key of a report's file.
func ArtifactKey(rep models.Report) string {
	return fmt.Sprintf("reports/%s/%s.%s", rep.ProjectID, rep.ID, rep.Format.Extension())
}

func fileName(rep models.Report) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ':
			return '-'
		}
		return -1
	}, rep.Name)
	if slug == "" {
		slug = "report-" + rep.ID
	}
	return slug + "." + rep.Format.Extension()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
