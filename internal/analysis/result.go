package analysis

import (
	"github.com/signalworks/propensity/internal/formatting"
)

// FinalResult is the client-facing outcome of a run.
type FinalResult struct {
	UserQuery       string  `json:"user_query"`
	Response        string  `json:"response"`
	PropensityScore float64 `json:"propensity_score"`
	ScoreCategory   string  `json:"score_category"`
	VisualIndicator string  `json:"visual_indicator"`
}

// newFinalResult builds the result from a formatted report, deriving the
// category and indicator from the score.
func newFinalResult(query string, score float64, report string) FinalResult {
	return FinalResult{
		UserQuery:       query,
		Response:        formatting.Narrative(query, score, report),
		PropensityScore: score,
		ScoreCategory:   formatting.Category(score),
		VisualIndicator: formatting.Indicator(score),
	}
}

// FallbackResult is returned when a run times out or fails before producing
// a report. It is a well-formed result whose response explains the failure.
func FallbackResult(query string) FinalResult {
	return FinalResult{
		UserQuery:       query,
		Response:        formatting.FallbackNarrative(query),
		PropensityScore: 0,
		ScoreCategory:   formatting.CategoryError,
		VisualIndicator: formatting.IndicatorError,
	}
}
