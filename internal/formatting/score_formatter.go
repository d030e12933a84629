// Package formatting shapes the final analysis output: score rendering,
// category thresholds, the visual score bar, and the narrative wrapper
// around the generated business report.
package formatting

import (
	"strconv"
	"strings"
)

// Category names and visual indicators for the 1-10 propensity scale.
const (
	CategoryHigh   = "High"
	CategoryMedium = "Medium"
	CategoryLow    = "Low"
	CategoryError  = "Error"

	IndicatorHigh   = "🟢 High"
	IndicatorMedium = "🟡 Medium"
	IndicatorLow    = "🔴 Low"
	IndicatorError  = "🔴 Error"
)

// Score renders a score without trailing zeros: 8 not 8.0, 8.5 stays 8.5.
func Score(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// Category maps a score to its propensity band.
func Category(s float64) string {
	switch {
	case s >= 8:
		return CategoryHigh
	case s >= 5:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// Indicator maps a score to its visual indicator.
func Indicator(s float64) string {
	switch {
	case s >= 8:
		return IndicatorHigh
	case s >= 5:
		return IndicatorMedium
	default:
		return IndicatorLow
	}
}

// ScoreBar renders the ten-slot bar: filled blocks for the integer part of
// the score, shaded blocks for the rest. Counts clamp at zero so scores
// outside 0-10 still render.
func ScoreBar(s float64) string {
	blocks := int(s)
	if blocks < 0 {
		blocks = 0
	}
	shades := 10 - int(s)
	if shades < 0 {
		shades = 0
	}
	return strings.Repeat("█", blocks) + strings.Repeat("░", shades)
}

// Narrative assembles the final markdown response around the report body.
func Narrative(query string, score float64, report string) string {
	var b strings.Builder
	b.WriteString("## Propensity Score Analysis: ")
	b.WriteString(query)
	b.WriteString("\n\n**Score:** ")
	b.WriteString(Score(score))
	b.WriteString("/10 (")
	b.WriteString(Category(score))
	b.WriteString(" Propensity)\n**Visual:** [")
	b.WriteString(ScoreBar(score))
	b.WriteString("] ")
	b.WriteString(Score(score * 10))
	b.WriteString("% ")
	b.WriteString(Indicator(score))
	b.WriteString("\n\n---\n\n")
	b.WriteString(report)
	return b.String()
}

// FallbackNarrative is the response body used when a run times out or fails
// before producing a report.
func FallbackNarrative(query string) string {
	return "## Propensity Score Analysis: " + query +
		"\n\n**Score:** Unable to calculate" +
		"\n\n**Error:** The analysis could not be completed due to a technical issue. Please try again later."
}
