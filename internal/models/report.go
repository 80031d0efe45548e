package models

import (
	"encoding/json"
	"time"
)

type ReportType string

const (
	ReportTypeQuick         ReportType = "quick"
	ReportTypeComprehensive ReportType = "comprehensive"
	ReportTypeCustom        ReportType = "custom"
)

func (t ReportType) IsValid() bool {
	switch t {
	case ReportTypeQuick, ReportTypeComprehensive, ReportTypeCustom:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusReady      ReportStatus = "ready"
	ReportStatusError      ReportStatus = "error"
)

type ReportFormat string

const (
	ReportFormatJSON ReportFormat = "json"
	ReportFormatPDF  ReportFormat = "pdf"
)

func (f ReportFormat) IsValid() bool {
	return f == ReportFormatJSON || f == ReportFormatPDF
}

func (f ReportFormat) Extension() string {
	return string(f)
}

func (f ReportFormat) ContentType() string {
	if f == ReportFormatPDF {
		return "application/pdf"
	}
	return "application/json"
}

// ReportRetention is how long a generated report stays downloadable.
const ReportRetention = 30 * 24 * time.Hour

type Report struct {
	ID               string          `json:"id" db:"id"`
	ProjectID        string          `json:"project_id" db:"project_id"`
	Name             string          `json:"name" db:"name"`
	ReportType       ReportType      `json:"report_type" db:"report_type"`
	Format           ReportFormat    `json:"format" db:"format"`
	Status           ReportStatus    `json:"status" db:"status"`
	IncludedAnalyses []string        `json:"included_analyses" db:"included_analyses"`
	FilePath         *string         `json:"file_path,omitempty" db:"file_path"`
	FileSize         *int64          `json:"file_size,omitempty" db:"file_size"`
	Summary          json.RawMessage `json:"summary,omitempty" db:"summary"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	ExpiresAt        time.Time       `json:"expires_at" db:"expires_at"`
	DownloadCount    int64           `json:"download_count" db:"download_count"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

func (r Report) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ReportSummary is the aggregate computed over the included analyses.
type ReportSummary struct {
	TotalAnalyses    int                  `json:"total_analyses"`
	AverageScore     float64              `json:"average_score"`
	CompletionRate   float64              `json:"completion_rate"`
	TotalIssues      int                  `json:"total_issues"`
	IssuesBySeverity SeverityCounts       `json:"issues_by_severity"`
	AnalysesByType   map[AnalysisType]int `json:"analyses_by_type"`
	ScoresByType     map[AnalysisType]int `json:"scores_by_type"`
}

type SeverityCounts struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Minor    int `json:"minor"`
}

func (c SeverityCounts) Total() int {
	return c.Critical + c.Serious + c.Moderate + c.Minor
}
