package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stanstork/uxlens-api/internal/apperr"
	"github.com/stanstork/uxlens-api/internal/models"
)

// ProjectRepository is the read-only view of projects the job pipeline needs.
type ProjectRepository interface {
	Get(ctx context.Context, projectID string) (models.Project, error)
}

type projectRepository struct {
	db *sql.DB
}

func NewProjectRepository(db *sql.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Get(ctx context.Context, projectID string) (models.Project, error) {
	const query = `
		SELECT id, user_id, name, url, status, created_at, updated_at
		FROM app.projects
		WHERE id = $1
	`
	var p models.Project
	err := r.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.URL,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, apperr.NotFound("project not found")
		}
		return p, err
	}
	return p, nil
}
