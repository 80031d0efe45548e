package scoring

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stanstork/uxlens-api/internal/engine"
)

// Analyzer is satisfied by *engine.Client.
type Analyzer interface {
	Analyze(ctx context.Context, req engine.AnalyzeRequest) (*engine.AnalyzeOutput, error)
}

// EngineScorer delegates to the analyzer container.
type EngineScorer struct {
	analyzer Analyzer
}

func NewEngineScorer(a Analyzer) *EngineScorer {
	return &EngineScorer{analyzer: a}
}

func (s *EngineScorer) Score(ctx context.Context, d Descriptor) (Result, error) {
	out, err := s.analyzer.Analyze(ctx, engine.AnalyzeRequest{
		Type:   string(d.AnalysisType),
		URL:    d.ProjectURL,
		Config: d.Configuration,
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "analyze %s", d.AnalysisType)
	}
	if err := checkScore(*out.Score); err != nil {
		return Result{}, err
	}
	doc := out.Results
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	return Result{Score: *out.Score, Document: doc}, nil
}
