package models

import "time"

type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
	ProjectStatusDeleted  ProjectStatus = "deleted"
)

// Project is owned by the project CRUD layer; the job pipeline only reads it.
type Project struct {
	ID        string        `json:"id" db:"id"`
	UserID    string        `json:"user_id" db:"user_id"`
	Name      string        `json:"name" db:"name"`
	URL       string        `json:"url" db:"url"`
	Status    ProjectStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

func (p Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}
