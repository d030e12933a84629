package analysis

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/signalworks/propensity/internal/metrics"
)

// extractJSONSpan pulls the JSON payload out of a model response. A closed
// ```json fence wins, then the widest brace span, then the text as-is.
func extractJSONSpan(raw string) string {
	if i := strings.Index(raw, "```json"); i >= 0 {
		rest := raw[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return rest[:j]
		}
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// parseScoredResult turns the analyzer's response into a ScoredResult. It
// never fails: when the payload is not valid JSON the whole trimmed response
// becomes the rationale with a zero score, and a score value that cannot be
// read as a number defaults to zero without discarding the rest.
func parseScoredResult(raw string) ScoredResult {
	trimmed := strings.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(extractJSONSpan(trimmed)), &obj); err != nil {
		metrics.ScoreParseFailures.WithLabelValues("json").Inc()
		return ScoredResult{Score: 0, Rationale: trimmed}
	}

	out := ScoredResult{Score: toScore(obj["propensity_score"])}
	if r, ok := obj["rationale"].(string); ok {
		out.Rationale = r
	}
	if list, ok := obj["strategic_recommendations"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out.Recommendations = append(out.Recommendations, s)
			}
		}
	}
	return out
}

// toScore coerces the propensity_score JSON value. Numbers and numeric
// strings pass through; anything absent or unreadable reads as zero.
func toScore(v any) float64 {
	switch s := v.(type) {
	case nil:
		return 0
	case float64:
		return s
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			metrics.ScoreParseFailures.WithLabelValues("score").Inc()
			return 0
		}
		return f
	default:
		metrics.ScoreParseFailures.WithLabelValues("score").Inc()
		return 0
	}
}
