package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/stanstork/uxlens-api/internal/models"
)

// Document is the artifact content before serialization.
type Document struct {
	Report      DocumentHeader       `json:"report"`
	Project     models.ProjectRef    `json:"project"`
	Summary     models.ReportSummary `json:"summary"`
	Analyses    []DocumentAnalysis   `json:"analyses"`
	GeneratedAt time.Time            `json:"generated_at"`
}

type DocumentHeader struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	ReportType models.ReportType   `json:"report_type"`
	Format     models.ReportFormat `json:"format"`
}

type DocumentAnalysis struct {
	ID           string              `json:"id"`
	AnalysisType models.AnalysisType `json:"analysis_type"`
	Score        *int                `json:"score,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	Results      json.RawMessage     `json:"results,omitempty"`
}

// BuildDocument assembles the artifact. Quick reports carry scores only;
// comprehensive and custom reports embed each analysis' results.
func BuildDocument(r models.Report, project models.Project, analyses []models.Analysis, summary models.ReportSummary, now time.Time) Document {
	detailed := r.ReportType != models.ReportTypeQuick
	entries := make([]DocumentAnalysis, 0, len(analyses))
	for _, a := range analyses {
		entry := DocumentAnalysis{
			ID:           a.ID,
			AnalysisType: a.AnalysisType,
			Score:        a.Score,
			CompletedAt:  a.CompletedAt,
		}
		if detailed {
			entry.Results = a.Results
		}
		entries = append(entries, entry)
	}
	return Document{
		Report:      DocumentHeader{ID: r.ID, Name: r.Name, ReportType: r.ReportType, Format: r.Format},
		Project:     models.ProjectRef{ID: project.ID, Name: project.Name, URL: project.URL},
		Summary:     summary,
		Analyses:    entries,
		GeneratedAt: now.UTC(),
	}
}

func Render(format models.ReportFormat, doc Document) ([]byte, error) {
	switch format {
	case models.ReportFormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case models.ReportFormatPDF:
		return renderPDF(doc)
	}
	return nil, fmt.Errorf("unsupported report format %q", format)
}

func renderPDF(doc Document) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("{nb}")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(108, 117, 125)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 102, 204)
	pdf.CellFormat(0, 14, tr(doc.Report.Name), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("%s - %s", doc.Project.Name, doc.Project.URL)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("%s report, generated %s", doc.Report.ReportType, doc.GeneratedAt.Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")

	sectionHeader(pdf, "Summary")
	s := doc.Summary
	keyValue(pdf, "Analyses", fmt.Sprintf("%d", s.TotalAnalyses))
	keyValue(pdf, "Average score", fmt.Sprintf("%.2f", s.AverageScore))
	keyValue(pdf, "Completion rate", fmt.Sprintf("%.0f%%", s.CompletionRate))
	keyValue(pdf, "Total issues", fmt.Sprintf("%d", s.TotalIssues))
	keyValue(pdf, "Critical / Serious", fmt.Sprintf("%d / %d", s.IssuesBySeverity.Critical, s.IssuesBySeverity.Serious))
	keyValue(pdf, "Moderate / Minor", fmt.Sprintf("%d / %d", s.IssuesBySeverity.Moderate, s.IssuesBySeverity.Minor))

	sectionHeader(pdf, "Scores by type")
	types := make([]string, 0, len(s.ScoresByType))
	for t := range s.ScoresByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(233, 236, 239)
	pdf.CellFormat(90, 8, "Type", "1", 0, "L", true, 0, "")
	pdf.CellFormat(45, 8, "Runs", "1", 0, "C", true, 0, "")
	pdf.CellFormat(45, 8, "Latest score", "1", 1, "C", true, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, t := range types {
		at := models.AnalysisType(t)
		pdf.CellFormat(90, 7, t, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 7, fmt.Sprintf("%d", s.AnalysesByType[at]), "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 7, fmt.Sprintf("%d", s.ScoresByType[at]), "1", 1, "C", false, 0, "")
	}

	if doc.Report.ReportType != models.ReportTypeQuick {
		for _, a := range doc.Analyses {
			issues := issuesOf(a.Results)
			if len(issues) == 0 {
				continue
			}
			sectionHeader(pdf, fmt.Sprintf("%s findings", a.AnalysisType))
			pdf.SetFont("Arial", "", 9)
			pdf.SetTextColor(33, 37, 41)
			for _, issue := range issues {
				pdf.MultiCell(0, 5, tr(fmt.Sprintf("[%s] %s", strings.ToUpper(string(issue.Severity)), issue.Title)), "", "L", false)
			}
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.SetLineWidth(0.4)
	pdf.SetDrawColor(0, 102, 204)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(3)
}

func keyValue(pdf *gofpdf.Fpdf, key, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(50, 7, key, "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
}

func issuesOf(results json.RawMessage) []models.Issue {
	var parsed resultIssues
	if len(results) == 0 || json.Unmarshal(results, &parsed) != nil {
		return nil
	}
	return parsed.Issues
}
