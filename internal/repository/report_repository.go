package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/models"
)

type ReportRepository interface {
	Create(ctx context.Context, report models.Report) (models.Report, error)
	GetByID(ctx context.Context, reportID string) (models.Report, error)
	GetForUser(ctx context.Context, userID, reportID string) (models.Report, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]models.Report, error)

	// MarkReady and MarkError only apply while the report is generating.
	MarkReady(ctx context.Context, reportID, filePath string, fileSize int64, summary json.RawMessage) (bool, error)
	MarkError(ctx context.Context, reportID, errorMessage string) (bool, error)
	// Reset clears the artifact fields, returns the report to generating and
	// moves its expiry. ok is false when the report is missing or already generating.
	Reset(ctx context.Context, userID, reportID string, expiresAt time.Time) (r models.Report, ok bool, err error)
	IncrementDownloads(ctx context.Context, reportID string) (int64, bool, error)

	ListOwned(ctx context.Context, userID string, reportIDs []string) ([]models.Report, error)
	DeleteMany(ctx context.Context, userID string, reportIDs []string) (int64, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Report, error)
	DeleteByID(ctx context.Context, reportID string) error
	ListIDsByStatus(ctx context.Context, status models.ReportStatus) ([]string, error)
}

type reportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) ReportRepository {
	return &reportRepository{db: db}
}

const reportColumns = `r.id, r.project_id, r.name, r.report_type, r.format, r.status, r.included_analyses,
	r.file_path, r.file_size, r.summary, r.error_message, r.expires_at, r.download_count, r.created_at, r.updated_at`

func (r *reportRepository) Create(ctx context.Context, report models.Report) (models.Report, error) {
	query := `
		INSERT INTO app.reports AS r (project_id, name, report_type, format, status, included_analyses, expires_at)
		VALUES ($1, $2, $3, $4, 'generating', $5::uuid[], $6)
		RETURNING ` + reportColumns
	ids := report.IncludedAnalyses
	if ids == nil {
		ids = []string{}
	}
	row := r.db.QueryRowContext(ctx, query,
		report.ProjectID,
		report.Name,
		report.ReportType,
		report.Format,
		pq.Array(ids),
		report.ExpiresAt,
	)
	return scanReport(row)
}

func (r *reportRepository) GetByID(ctx context.Context, reportID string) (models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM app.reports r WHERE r.id = $1`
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return rep, apperr.NotFound("report not found")
	}
	return rep, err
}

func (r *reportRepository) GetForUser(ctx context.Context, userID, reportID string) (models.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM app.reports r
		JOIN app.projects p ON p.id = r.project_id
		WHERE r.id = $1 AND p.user_id = $2 AND p.status <> 'deleted'
	`
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, reportID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return rep, apperr.NotFound("report not found")
	}
	return rep, err
}

func (r *reportRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]models.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM app.reports r
		WHERE r.project_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2
		OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, projectID, clampLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	return collectReports(rows)
}

func (r *reportRepository) MarkReady(ctx context.Context, reportID, filePath string, fileSize int64, summary json.RawMessage) (bool, error) {
	const query = `
		UPDATE app.reports
		   SET status        = 'ready',
		       file_path     = $2,
		       file_size     = $3,
		       summary       = $4,
		       error_message = NULL,
		       updated_at    = NOW()
		 WHERE id = $1 AND status = 'generating'
	`
	return r.execAffected(ctx, "mark report ready", query, reportID, filePath, fileSize, nullableJSON(summary))
}

func (r *reportRepository) MarkError(ctx context.Context, reportID, errorMessage string) (bool, error) {
	const query = `
		UPDATE app.reports
		   SET status        = 'error',
		       file_path     = NULL,
		       file_size     = NULL,
		       summary       = NULL,
		       error_message = $2,
		       updated_at    = NOW()
		 WHERE id = $1 AND status = 'generating'
	`
	return r.execAffected(ctx, "mark report error", query, reportID, errorMessage)
}

func (r *reportRepository) Reset(ctx context.Context, userID, reportID string, expiresAt time.Time) (models.Report, bool, error) {
	query := `
		UPDATE app.reports AS r
		   SET status        = 'generating',
		       file_path     = NULL,
		       file_size     = NULL,
		       summary       = NULL,
		       error_message = NULL,
		       expires_at    = $3,
		       updated_at    = NOW()
		  FROM app.projects p
		 WHERE r.id = $1
		   AND p.id = r.project_id
		   AND p.user_id = $2
		   AND r.status <> 'generating'
		RETURNING ` + reportColumns
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, reportID, userID, expiresAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Report{}, false, nil
		}
		return models.Report{}, false, err
	}
	return rep, true, nil
}

func (r *reportRepository) IncrementDownloads(ctx context.Context, reportID string) (int64, bool, error) {
	const query = `
		UPDATE app.reports
		   SET download_count = download_count + 1,
		       updated_at     = NOW()
		 WHERE id = $1
		   AND status = 'ready'
		RETURNING download_count
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, reportID).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("increment download count: %w", err)
	}
	return count, true, nil
}

func (r *reportRepository) ListOwned(ctx context.Context, userID string, reportIDs []string) ([]models.Report, error) {
	if len(reportIDs) == 0 {
		return []models.Report{}, nil
	}
	query := `
		SELECT ` + reportColumns + `
		FROM app.reports r
		JOIN app.projects p ON p.id = r.project_id
		WHERE r.id = ANY($1::uuid[]) AND p.user_id = $2
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(reportIDs), userID)
	if err != nil {
		return nil, err
	}
	return collectReports(rows)
}

func (r *reportRepository) DeleteMany(ctx context.Context, userID string, reportIDs []string) (int64, error) {
	if len(reportIDs) == 0 {
		return 0, nil
	}
	const query = `
		DELETE FROM app.reports r
		 USING app.projects p
		 WHERE r.id = ANY($1::uuid[])
		   AND p.id = r.project_id
		   AND p.user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, pq.Array(reportIDs), userID)
	if err != nil {
		return 0, fmt.Errorf("delete reports: %w", err)
	}
	return res.RowsAffected()
}

func (r *reportRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + reportColumns + `
		FROM app.reports r
		WHERE r.expires_at < $1 AND r.status <> 'generating'
		ORDER BY r.expires_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	return collectReports(rows)
}

func (r *reportRepository) DeleteByID(ctx context.Context, reportID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM app.reports WHERE id = $1`, reportID)
	if err != nil {
		return fmt.Errorf("delete report %s: %w", reportID, err)
	}
	return nil
}

func (r *reportRepository) execAffected(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func collectReports(rows *sql.Rows) ([]models.Report, error) {
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func scanReport(s scanner) (models.Report, error) {
	var (
		rep      models.Report
		included pq.StringArray
		filePath sql.NullString
		fileSize sql.NullInt64
		summary  []byte
		errMsg   sql.NullString
	)
	if err := s.Scan(
		&rep.ID,
		&rep.ProjectID,
		&rep.Name,
		&rep.ReportType,
		&rep.Format,
		&rep.Status,
		&included,
		&filePath,
		&fileSize,
		&summary,
		&errMsg,
		&rep.ExpiresAt,
		&rep.DownloadCount,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	); err != nil {
		return models.Report{}, err
	}
	rep.IncludedAnalyses = []string(included)
	if rep.IncludedAnalyses == nil {
		rep.IncludedAnalyses = []string{}
	}
	rep.FilePath = stringPtr(filePath)
	if fileSize.Valid {
		v := fileSize.Int64
		rep.FileSize = &v
	}
	if len(summary) > 0 {
		rep.Summary = summary
	}
	rep.ErrorMessage = stringPtr(errMsg)
	return rep, nil
}

func (r *reportRepository) ListIDsByStatus(ctx context.Context, status models.ReportStatus) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM app.reports WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}
