package report

import (
	"encoding/json"
	"math"

	"github.com/stanstork/uxlens-api/internal/models"
)

type resultIssues struct {
	Issues []models.Issue `json:"issues"`
}

// Summarize aggregates completed analyses. requested is the number of
// analyses the report asked for; analyses deleted since creation lower the
// completion rate. Issues with an unrecognised severity count toward
// TotalIssues only.
func Summarize(analyses []models.Analysis, requested int) models.ReportSummary {
	summary := models.ReportSummary{
		AnalysesByType: map[models.AnalysisType]int{},
		ScoresByType:   map[models.AnalysisType]int{},
	}

	scoreSum, scored := 0, 0
	for _, a := range analyses {
		if a.Status != models.AnalysisStatusCompleted {
			continue
		}
		summary.TotalAnalyses++
		summary.AnalysesByType[a.AnalysisType]++
		if a.Score != nil {
			scoreSum += *a.Score
			scored++
			summary.ScoresByType[a.AnalysisType] = *a.Score
		}

		var parsed resultIssues
		if len(a.Results) > 0 && json.Unmarshal(a.Results, &parsed) == nil {
			for _, issue := range parsed.Issues {
				summary.TotalIssues++
				switch issue.Severity {
				case models.SeverityCritical:
					summary.IssuesBySeverity.Critical++
				case models.SeveritySerious:
					summary.IssuesBySeverity.Serious++
				case models.SeverityModerate:
					summary.IssuesBySeverity.Moderate++
				case models.SeverityMinor:
					summary.IssuesBySeverity.Minor++
				}
			}
		}
	}

	if scored > 0 {
		summary.AverageScore = round2(float64(scoreSum) / float64(scored))
	}
	if requested > 0 {
		summary.CompletionRate = round2(float64(summary.TotalAnalyses) / float64(requested) * 100)
	}
	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
