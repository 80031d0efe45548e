package models

import (
	"encoding/json"
	"time"
)

type AnalysisType string

const (
	AnalysisTypeAccessibility AnalysisType = "accessibility"
	AnalysisTypeUsability     AnalysisType = "usability"
	AnalysisTypePerformance   AnalysisType = "performance"
	AnalysisTypeContrast      AnalysisType = "contrast"
	AnalysisTypeTypography    AnalysisType = "typography"
	AnalysisTypeResponsive    AnalysisType = "responsive"
	AnalysisTypeLighthouse    AnalysisType = "lighthouse"
	AnalysisTypeOCR           AnalysisType = "ocr"
	AnalysisTypeComplete      AnalysisType = "complete"
)

var analysisTypes = map[AnalysisType]struct{}{
	AnalysisTypeAccessibility: {},
	AnalysisTypeUsability:     {},
	AnalysisTypePerformance:   {},
	AnalysisTypeContrast:      {},
	AnalysisTypeTypography:    {},
	AnalysisTypeResponsive:    {},
	AnalysisTypeLighthouse:    {},
	AnalysisTypeOCR:           {},
	AnalysisTypeComplete:      {},
}

func (t AnalysisType) IsValid() bool {
	_, ok := analysisTypes[t]
	return ok
}

type AnalysisStatus string

const (
	AnalysisStatusPending   AnalysisStatus = "pending"
	AnalysisStatusRunning   AnalysisStatus = "running"
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// IsInFlight reports whether at most one analysis per (project, type) may hold this status.
func (s AnalysisStatus) IsInFlight() bool {
	return s == AnalysisStatusPending || s == AnalysisStatusRunning
}

func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// StoppedByUserMessage is recorded when a running analysis is stopped.
const StoppedByUserMessage = "Analysis stopped by user"

type Analysis struct {
	ID            string          `json:"id" db:"id"`
	ProjectID     string          `json:"project_id" db:"project_id"`
	AnalysisType  AnalysisType    `json:"analysis_type" db:"analysis_type"`
	Status        AnalysisStatus  `json:"status" db:"status"`
	Configuration json.RawMessage `json:"configuration,omitempty" db:"configuration"`
	Score         *int            `json:"score,omitempty" db:"score"`
	Results       json.RawMessage `json:"results,omitempty" db:"results"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt     *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AnalysisResults is the payload returned to callers polling a completed analysis.
type AnalysisResults struct {
	AnalysisID   string          `json:"analysis_id"`
	AnalysisType AnalysisType    `json:"analysis_type"`
	Score        int             `json:"score"`
	Results      json.RawMessage `json:"results"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Project      ProjectRef      `json:"project"`
}

type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// Issue is one finding inside an analysis results document.
type Issue struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Selector    string   `json:"selector,omitempty"`
}
