package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/jobs"
	"github.com/stanstork/uxlens-api/internal/models"
	"github.com/stanstork/uxlens-api/internal/notification"
	"github.com/stanstork/uxlens-api/internal/repository"
	"github.com/stanstork/uxlens-api/internal/storage"
)

type memProjects map[string]models.Project

func (p memProjects) Get(_ context.Context, id string) (models.Project, error) {
	proj, ok := p[id]
	if !ok {
		return proj, apperr.NotFound("project not found")
	}
	return proj, nil
}

// stubAnalyses serves the completed-analysis lookups; other methods are unused.
type stubAnalyses struct {
	repository.AnalysisRepository
	rows map[string]models.Analysis
}

func (s *stubAnalyses) ListCompletedByIDs(_ context.Context, projectID string, ids []string) ([]models.Analysis, error) {
	var out []models.Analysis
	for _, id := range ids {
		if a, ok := s.rows[id]; ok && a.ProjectID == projectID && a.Status == models.AnalysisStatusCompleted {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubAnalyses) CountCompleted(ctx context.Context, projectID string, ids []string) (int, error) {
	out, _ := s.ListCompletedByIDs(ctx, projectID, ids)
	return len(out), nil
}

type memReports struct {
	mu       sync.Mutex
	seq      int
	rows     map[string]models.Report
	projects memProjects

	markReadyErr error
}

func (r *memReports) owned(userID string, rep models.Report) bool {
	p, ok := r.projects[rep.ProjectID]
	return ok && p.UserID == userID
}

func (r *memReports) Create(_ context.Context, rep models.Report) (models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	rep.ID = fmt.Sprintf("r%d", r.seq)
	rep.Status = models.ReportStatusGenerating
	rep.CreatedAt = time.Now()
	r.rows[rep.ID] = rep
	return rep, nil
}

func (r *memReports) GetByID(_ context.Context, id string) (models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.rows[id]
	if !ok {
		return rep, apperr.NotFound("report not found")
	}
	return rep, nil
}

func (r *memReports) GetForUser(ctx context.Context, userID, id string) (models.Report, error) {
	rep, err := r.GetByID(ctx, id)
	if err != nil || !r.owned(userID, rep) {
		return models.Report{}, apperr.NotFound("report not found")
	}
	return rep, nil
}

func (r *memReports) ListByProject(_ context.Context, projectID string, _, _ int) ([]models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Report{}
	for _, rep := range r.rows {
		if rep.ProjectID == projectID {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memReports) MarkReady(_ context.Context, id, path string, size int64, summary json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markReadyErr != nil {
		return false, r.markReadyErr
	}
	rep, ok := r.rows[id]
	if !ok || rep.Status != models.ReportStatusGenerating {
		return false, nil
	}
	rep.Status = models.ReportStatusReady
	rep.FilePath = &path
	rep.FileSize = &size
	rep.Summary = summary
	r.rows[id] = rep
	return true, nil
}

func (r *memReports) MarkError(_ context.Context, id, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.rows[id]
	if !ok || rep.Status != models.ReportStatusGenerating {
		return false, nil
	}
	rep.Status = models.ReportStatusError
	rep.ErrorMessage = &msg
	rep.FilePath, rep.FileSize, rep.Summary = nil, nil, nil
	r.rows[id] = rep
	return true, nil
}

func (r *memReports) Reset(_ context.Context, userID, id string, expiresAt time.Time) (models.Report, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.rows[id]
	if !ok || !r.owned(userID, rep) || rep.Status == models.ReportStatusGenerating {
		return models.Report{}, false, nil
	}
	rep.Status = models.ReportStatusGenerating
	rep.FilePath, rep.FileSize, rep.Summary, rep.ErrorMessage = nil, nil, nil, nil
	rep.ExpiresAt = expiresAt
	r.rows[id] = rep
	return rep, true, nil
}

func (r *memReports) IncrementDownloads(_ context.Context, id string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.rows[id]
	if !ok || rep.Status != models.ReportStatusReady {
		return 0, false, nil
	}
	rep.DownloadCount++
	r.rows[id] = rep
	return rep.DownloadCount, true, nil
}

func (r *memReports) ListOwned(_ context.Context, userID string, ids []string) ([]models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Report
	for _, id := range ids {
		if rep, ok := r.rows[id]; ok && r.owned(userID, rep) {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memReports) DeleteMany(_ context.Context, userID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if rep, ok := r.rows[id]; ok && r.owned(userID, rep) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *memReports) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Report
	for _, rep := range r.rows {
		if rep.ExpiresAt.Before(now) && rep.Status != models.ReportStatusGenerating && len(out) < limit {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *memReports) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memReports) ListIDsByStatus(_ context.Context, status models.ReportStatus) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, rep := range r.rows {
		if rep.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memReports) get(id string) models.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

type queueDispatcher struct {
	handlers  map[jobs.Kind]jobs.Handler
	queued    []jobs.Job
	cancelled []string
}

func (d *queueDispatcher) Register(kind jobs.Kind, h jobs.Handler) { d.handlers[kind] = h }

func (d *queueDispatcher) Dispatch(_ context.Context, job jobs.Job) error {
	d.queued = append(d.queued, job)
	return nil
}

func (d *queueDispatcher) Cancel(_ context.Context, id string) error {
	d.cancelled = append(d.cancelled, id)
	return nil
}

func (d *queueDispatcher) Shutdown(context.Context) error { return nil }

func (d *queueDispatcher) runAll() error {
	for len(d.queued) > 0 {
		job := d.queued[0]
		d.queued = d.queued[1:]
		if err := d.handlers[job.Kind](context.Background(), job.ID); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotifier struct {
	sent []notification.ReportReady
	err  error
}

func (n *recordingNotifier) NotifyReportReady(_ context.Context, evt notification.ReportReady) error {
	n.sent = append(n.sent, evt)
	return n.err
}

// flakyStore wraps the in-memory store with injectable failures.
type flakyStore struct {
	*storage.Memory
	putErr    error
	deleteErr error
	deleted   []string
	onGet     func()
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.onGet != nil {
		s.onGet()
	}
	return s.Memory.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key, contentType string, data []byte) (int64, error) {
	if s.putErr != nil {
		return 0, s.putErr
	}
	return s.Memory.Put(ctx, key, contentType, data)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Memory.Delete(ctx, key)
}
