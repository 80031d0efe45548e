package analysis

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
	"github.com/stanstork/uxlens-api/internal/scoring"
)

type memAnalyses struct {
	mu          sync.Mutex
	seq         int
	rows        map[string]models.Analysis
	projects    *memProjects
	completeErr error
}

func newMemAnalyses(projects *memProjects) *memAnalyses {
	return &memAnalyses{rows: make(map[string]models.Analysis), projects: projects}
}

func (r *memAnalyses) inFlightLocked(projectID string, t models.AnalysisType, except string) bool {
	for id, a := range r.rows {
		if id != except && a.ProjectID == projectID && a.AnalysisType == t && a.Status.IsInFlight() {
			return true
		}
	}
	return false
}

func (r *memAnalyses) Create(_ context.Context, a models.Analysis) (models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlightLocked(a.ProjectID, a.AnalysisType, "") {
		return models.Analysis{}, apperr.Conflict("duplicate in-flight analysis")
	}
	r.seq++
	a.ID = fmt.Sprintf("a%d", r.seq)
	a.Status = models.AnalysisStatusPending
	a.CreatedAt = time.Now()
	r.rows[a.ID] = a
	return a, nil
}

func (r *memAnalyses) GetByID(_ context.Context, id string) (models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return a, apperr.NotFound("analysis not found")
	}
	return a, nil
}

func (r *memAnalyses) GetForUser(ctx context.Context, userID, id string) (models.Analysis, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return a, err
	}
	p, err := r.projects.Get(ctx, a.ProjectID)
	if err != nil || p.UserID != userID {
		return models.Analysis{}, apperr.NotFound("analysis not found")
	}
	return a, nil
}

func (r *memAnalyses) ListByProject(_ context.Context, projectID string, _, _ int) ([]models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Analysis{}
	for _, a := range r.rows {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func hasStatus(s models.AnalysisStatus, from []models.AnalysisStatus) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}

func (r *memAnalyses) Claim(_ context.Context, id string, from ...models.AnalysisStatus) (models.Analysis, bool, error) {
	if len(from) == 0 {
		from = []models.AnalysisStatus{models.AnalysisStatusPending}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || !hasStatus(a.Status, from) {
		return models.Analysis{}, false, nil
	}
	if r.inFlightLocked(a.ProjectID, a.AnalysisType, id) {
		return models.Analysis{}, false, apperr.Conflict("duplicate in-flight analysis")
	}
	now := time.Now()
	a.Status = models.AnalysisStatusRunning
	a.StartedAt = &now
	a.CompletedAt, a.ErrorMessage, a.Score, a.Results = nil, nil, nil, nil
	r.rows[id] = a
	return a, true, nil
}

func (r *memAnalyses) Complete(_ context.Context, id string, score int, results json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return false, r.completeErr
	}
	a, ok := r.rows[id]
	if !ok || a.Status != models.AnalysisStatusRunning {
		return false, nil
	}
	now := time.Now()
	a.Status = models.AnalysisStatusCompleted
	a.Score = &score
	a.Results = results
	a.CompletedAt = &now
	r.rows[id] = a
	return true, nil
}

func (r *memAnalyses) Fail(_ context.Context, id, msg string, from ...models.AnalysisStatus) (bool, error) {
	if len(from) == 0 {
		from = []models.AnalysisStatus{models.AnalysisStatusPending, models.AnalysisStatusRunning}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok || !hasStatus(a.Status, from) {
		return false, nil
	}
	now := time.Now()
	a.Status = models.AnalysisStatusFailed
	a.ErrorMessage = &msg
	a.CompletedAt = &now
	r.rows[id] = a
	return true, nil
}

func (r *memAnalyses) Delete(ctx context.Context, userID, id string) (bool, error) {
	if _, err := r.GetForUser(ctx, userID, id); err != nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows[id].Status == models.AnalysisStatusRunning {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *memAnalyses) ListCompletedByIDs(_ context.Context, projectID string, ids []string) ([]models.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Analysis
	for _, id := range ids {
		if a, ok := r.rows[id]; ok && a.ProjectID == projectID && a.Status == models.AnalysisStatusCompleted {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAnalyses) CountCompleted(ctx context.Context, projectID string, ids []string) (int, error) {
	out, _ := r.ListCompletedByIDs(ctx, projectID, ids)
	return len(out), nil
}

func (r *memAnalyses) ListIDsByStatus(_ context.Context, status models.AnalysisStatus) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, a := range r.rows {
		if a.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memAnalyses) get(id string) models.Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

type memProjects struct {
	rows map[string]models.Project
}

func (p *memProjects) Get(_ context.Context, id string) (models.Project, error) {
	proj, ok := p.rows[id]
	if !ok {
		return proj, apperr.NotFound("project not found")
	}
	return proj, nil
}

// syncDispatcher queues jobs until the test runs them.
type syncDispatcher struct {
	mu        sync.Mutex
	handlers  map[jobs.Kind]jobs.Handler
	queued    []jobs.Job
	cancels   map[string]context.CancelFunc
	cancelled []string
	err       error
}

func newSyncDispatcher() *syncDispatcher {
	return &syncDispatcher{handlers: make(map[jobs.Kind]jobs.Handler), cancels: make(map[string]context.CancelFunc)}
}

func (d *syncDispatcher) Register(kind jobs.Kind, h jobs.Handler) { d.handlers[kind] = h }

func (d *syncDispatcher) Dispatch(_ context.Context, job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = append(d.queued, job)
	return nil
}

func (d *syncDispatcher) Cancel(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, id)
	if cancel, ok := d.cancels[id]; ok {
		cancel()
	}
	return nil
}

func (d *syncDispatcher) Shutdown(context.Context) error { return nil }

// next pops the oldest queued job and returns a runner for it.
func (d *syncDispatcher) next() (jobs.Job, func() error) {
	d.mu.Lock()
	job := d.queued[0]
	d.queued = d.queued[1:]
	ctx, cancel := context.WithCancel(context.Background())
	d.cancels[job.ID] = cancel
	h := d.handlers[job.Kind]
	d.mu.Unlock()
	return job, func() error {
		defer cancel()
		return h(ctx, job.ID)
	}
}

func (d *syncDispatcher) runNext() error {
	_, run := d.next()
	return run()
}

type funcScorer func(ctx context.Context, d scoring.Descriptor) (scoring.Result, error)

func (f funcScorer) Score(ctx context.Context, d scoring.Descriptor) (scoring.Result, error) {
	return f(ctx, d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.AnalysisCompleted
	err  error
}

func (n *recordingNotifier) NotifyAnalysisCompleted(_ context.Context, evt notification.AnalysisCompleted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, evt)
	return n.err
}
