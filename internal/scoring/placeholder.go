package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/stanstork/uxlens-api/internal/models"
)

type issueTemplate struct {
	title    string
	severity models.Severity
}

var issueCatalog = map[models.AnalysisType][]issueTemplate{
	models.AnalysisTypeAccessibility: {
		{"Image is missing alternative text", models.SeverityCritical},
		{"Form field has no associated label", models.SeveritySerious},
		{"Heading levels are skipped", models.SeverityModerate},
		{"Landmark region is missing", models.SeverityMinor},
	},
	models.AnalysisTypeUsability: {
		{"Primary call to action is below the fold", models.SeveritySerious},
		{"Navigation has more than seven top-level items", models.SeverityModerate},
		{"Link text is not descriptive", models.SeverityMinor},
	},
	models.AnalysisTypePerformance: {
		{"Largest contentful paint exceeds 4s", models.SeverityCritical},
		{"Render-blocking stylesheet", models.SeveritySerious},
		{"Images are not served in a modern format", models.SeverityModerate},
	},
	models.AnalysisTypeContrast: {
		{"Body text contrast ratio below 4.5:1", models.SeveritySerious},
		{"Placeholder text contrast ratio below 3:1", models.SeverityModerate},
	},
	models.AnalysisTypeTypography: {
		{"Body font size below 16px on mobile", models.SeverityModerate},
		{"Line length exceeds 80 characters", models.SeverityMinor},
	},
	models.AnalysisTypeResponsive: {
		{"Horizontal scrolling at 320px width", models.SeveritySerious},
		{"Tap targets closer than 8px", models.SeverityModerate},
	},
	models.AnalysisTypeLighthouse: {
		{"Total blocking time exceeds 600ms", models.SeveritySerious},
		{"Missing meta description", models.SeverityMinor},
	},
	models.AnalysisTypeOCR: {
		{"Text embedded in image", models.SeverityModerate},
		{"Low-resolution text rendering", models.SeverityMinor},
	},
}

// Placeholder produces randomized results. It stands in until a real
// analyzer is configured.
type Placeholder struct {
	// Delay simulates analyzer latency and honours ctx cancellation.
	Delay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPlaceholder(delay time.Duration, seed int64) *Placeholder {
	return &Placeholder{Delay: delay, rng: rand.New(rand.NewSource(seed))}
}

func (p *Placeholder) Score(ctx context.Context, d Descriptor) (Result, error) {
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	templates := issueCatalog[d.AnalysisType]
	if d.AnalysisType == models.AnalysisTypeComplete {
		for _, t := range issueCatalog {
			templates = append(templates, t...)
		}
	}

	p.mu.Lock()
	score := 60 + p.rng.Intn(41)
	var issues []models.Issue
	for i, t := range templates {
		if p.rng.Intn(2) == 0 {
			continue
		}
		issues = append(issues, models.Issue{
			ID:       fmt.Sprintf("%s-%d", d.AnalysisType, i+1),
			Severity: t.severity,
			Title:    t.title,
		})
	}
	p.mu.Unlock()

	if issues == nil {
		issues = []models.Issue{}
	}
	doc, err := json.Marshal(map[string]interface{}{
		"analysis_type": d.AnalysisType,
		"url":           d.ProjectURL,
		"score":         score,
		"issues":        issues,
		"generated_by":  "placeholder",
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Score: score, Document: doc}, nil
}
