package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/models"
)

type AnalysisRepository interface {
	Create(ctx context.Context, a models.Analysis) (models.Analysis, error)
	GetByID(ctx context.Context, analysisID string) (models.Analysis, error)
	GetForUser(ctx context.Context, userID, analysisID string) (models.Analysis, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]models.Analysis, error)

	// Claim moves an analysis to running when its status is one of from
	// (pending when empty). ok is false when it was not claimable.
	Claim(ctx context.Context, analysisID string, from ...models.AnalysisStatus) (a models.Analysis, ok bool, err error)
	// Complete records the outcome only while the analysis is still running.
	Complete(ctx context.Context, analysisID string, score int, results json.RawMessage) (bool, error)
	// Fail records errorMessage when the current status is one of from.
	Fail(ctx context.Context, analysisID, errorMessage string, from ...models.AnalysisStatus) (bool, error)
	Delete(ctx context.Context, userID, analysisID string) (bool, error)

	ListCompletedByIDs(ctx context.Context, projectID string, ids []string) ([]models.Analysis, error)
	CountCompleted(ctx context.Context, projectID string, ids []string) (int, error)
	// ListIDsByStatus is used on startup to find work orphaned by a restart.
	ListIDsByStatus(ctx context.Context, status models.AnalysisStatus) ([]string, error)
}

type analysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

const analysisColumns = `a.id, a.project_id, a.analysis_type, a.status, a.configuration, a.score, a.results,
	a.error_message, a.started_at, a.completed_at, a.created_at, a.updated_at`

func (r *analysisRepository) Create(ctx context.Context, a models.Analysis) (models.Analysis, error) {
	query := `
		INSERT INTO app.analyses AS a (project_id, analysis_type, status, configuration)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + analysisColumns
	row := r.db.QueryRowContext(ctx, query, a.ProjectID, a.AnalysisType, models.AnalysisStatusPending, nullableJSON(a.Configuration))
	created, err := scanAnalysis(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Analysis{}, apperr.Conflict("an %s analysis is already pending or running for this project", a.AnalysisType)
		}
		return models.Analysis{}, err
	}
	return created, nil
}

func (r *analysisRepository) GetByID(ctx context.Context, analysisID string) (models.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM app.analyses a WHERE a.id = $1`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, query, analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, apperr.NotFound("analysis not found")
	}
	return a, err
}

func (r *analysisRepository) GetForUser(ctx context.Context, userID, analysisID string) (models.Analysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM app.analyses a
		JOIN app.projects p ON p.id = a.project_id
		WHERE a.id = $1 AND p.user_id = $2 AND p.status <> 'deleted'
	`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, query, analysisID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, apperr.NotFound("analysis not found")
	}
	return a, err
}

func (r *analysisRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]models.Analysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM app.analyses a
		WHERE a.project_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2
		OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]models.Analysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (r *analysisRepository) Claim(ctx context.Context, analysisID string, from ...models.AnalysisStatus) (models.Analysis, bool, error) {
	if len(from) == 0 {
		from = []models.AnalysisStatus{models.AnalysisStatusPending}
	}
	query := `
		UPDATE app.analyses AS a
		   SET status        = 'running',
		       started_at    = NOW(),
		       completed_at  = NULL,
		       error_message = NULL,
		       score         = NULL,
		       results       = NULL,
		       updated_at    = NOW()
		 WHERE a.id = $1 AND a.status = ANY($2)
		RETURNING ` + analysisColumns
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, query, analysisID, pq.Array(statusStrings(from))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Analysis{}, false, nil
		}
		if isUniqueViolation(err) {
			return models.Analysis{}, false, apperr.Conflict("another analysis of this type is already pending or running for this project")
		}
		return models.Analysis{}, false, err
	}
	return a, true, nil
}

func (r *analysisRepository) Complete(ctx context.Context, analysisID string, score int, results json.RawMessage) (bool, error) {
	const query = `
		UPDATE app.analyses
		   SET status        = 'completed',
		       score         = $2,
		       results       = $3,
		       error_message = NULL,
		       completed_at  = NOW(),
		       updated_at    = NOW()
		 WHERE id = $1 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, analysisID, score, nullableJSON(results))
	if err != nil {
		return false, fmt.Errorf("complete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *analysisRepository) Fail(ctx context.Context, analysisID, errorMessage string, from ...models.AnalysisStatus) (bool, error) {
	if len(from) == 0 {
		from = []models.AnalysisStatus{models.AnalysisStatusPending, models.AnalysisStatusRunning}
	}
	const query = `
		UPDATE app.analyses
		   SET status        = 'failed',
		       error_message = $2,
		       completed_at  = NOW(),
		       updated_at    = NOW()
		 WHERE id = $1 AND status = ANY($3)
	`
	res, err := r.db.ExecContext(ctx, query, analysisID, errorMessage, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("fail analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *analysisRepository) Delete(ctx context.Context, userID, analysisID string) (bool, error) {
	const query = `
		DELETE FROM app.analyses a
		 USING app.projects p
		 WHERE a.id = $1
		   AND a.project_id = p.id
		   AND p.user_id = $2
		   AND a.status <> 'running'
	`
	res, err := r.db.ExecContext(ctx, query, analysisID, userID)
	if err != nil {
		return false, fmt.Errorf("delete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *analysisRepository) ListCompletedByIDs(ctx context.Context, projectID string, ids []string) ([]models.Analysis, error) {
	if len(ids) == 0 {
		return []models.Analysis{}, nil
	}
	query := `
		SELECT ` + analysisColumns + `
		FROM app.analyses a
		WHERE a.project_id = $1 AND a.id = ANY($2::uuid[]) AND a.status = 'completed'
		ORDER BY a.completed_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

func (r *analysisRepository) CountCompleted(ctx context.Context, projectID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
		SELECT COUNT(*)
		FROM app.analyses
		WHERE project_id = $1 AND id = ANY($2::uuid[]) AND status = 'completed'
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, projectID, pq.Array(ids)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count completed analyses: %w", err)
	}
	return count, nil
}

func scanAnalysis(s scanner) (models.Analysis, error) {
	var (
		a             models.Analysis
		configuration []byte
		score         sql.NullInt64
		results       []byte
		errMsg        sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	if err := s.Scan(
		&a.ID,
		&a.ProjectID,
		&a.AnalysisType,
		&a.Status,
		&configuration,
		&score,
		&results,
		&errMsg,
		&startedAt,
		&completedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return models.Analysis{}, err
	}
	if len(configuration) > 0 {
		a.Configuration = configuration
	}
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	if len(results) > 0 {
		a.Results = results
	}
	a.ErrorMessage = stringPtr(errMsg)
	a.StartedAt = timePtr(startedAt)
	a.CompletedAt = timePtr(completedAt)
	return a, nil
}

func statusStrings(statuses []models.AnalysisStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *analysisRepository) ListIDsByStatus(ctx context.Context, status models.AnalysisStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM app.analyses WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}
