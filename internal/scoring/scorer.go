// Package scoring holds the pluggable analysis scorers.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stanstork/uxlens-api/internal/models"
)

// Descriptor is the job handed to a Scorer.
type Descriptor struct {
	AnalysisID    string
	AnalysisType  models.AnalysisType
	ProjectID     string
	ProjectName   string
	ProjectURL    string
	Configuration json.RawMessage
}

// Result is a score in [0,100] plus the results document persisted with it.
type Result struct {
	Score    int
	Document json.RawMessage
}

type Scorer interface {
	Score(ctx context.Context, d Descriptor) (Result, error)
}

// ErrScoreOutOfRange is returned for scores outside [0,100].
type ErrScoreOutOfRange struct {
	Score int
}

func (e *ErrScoreOutOfRange) Error() string {
	return fmt.Sprintf("score %d is outside [0,100]", e.Score)
}

func checkScore(score int) error {
	if score < 0 || score > 100 {
		return &ErrScoreOutOfRange{Score: score}
	}
	return nil
}
