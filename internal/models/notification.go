package models

import (
	"encoding/json"
	"time"
)

const (
	NotificationTypeAnalysisCompleted = "analysis_completed"
	NotificationTypeReportReady       = "report_ready"
)

type Notification struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Type      string          `json:"type" db:"type"`
	Title     string          `json:"title" db:"title"`
	Message   string          `json:"message" db:"message"`
	Data      json.RawMessage `json:"data,omitempty" db:"data"`
	IsRead    bool            `json:"is_read" db:"is_read"`
	ReadAt    *time.Time      `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
