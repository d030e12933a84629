package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testDay = time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)

func TestResearchPromptAssembly(t *testing.T) {
	got := Research(MarketingSignal, testDay, "Analyze Meta",
		"Please research and analyze the marketing signals for the company mentioned in the user query.")

	assert.True(t, strings.HasPrefix(got, "You are a marketing intelligence analyst"))
	assert.Contains(t, got, "Today's date is March 07, 2025.")
	assert.Contains(t, got, "\n\nUser Query: Analyze Meta\n\n")
	assert.True(t, strings.HasSuffix(got, "mentioned in the user query."))
	assert.NotContains(t, got, "{today}")
}

func TestAnalyzerPromptSlots(t *testing.T) {
	got := Analyzer(testDay, "M-finding", "L-finding", "C-finding", "S-finding")

	assert.Contains(t, got, "1.  Marketing Signal:\n    M-finding")
	assert.Contains(t, got, "2.  Leadership Change:\n    L-finding")
	assert.Contains(t, got, "3.  Competitor Ad Spend:\n    C-finding")
	assert.Contains(t, got, "4.  3-Month Stock Report:\n    S-finding")
	assert.Contains(t, got, "Today's date is March 07, 2025.")

	// The JSON template in the prompt body must survive substitution.
	assert.Contains(t, got, `"propensity_score": <score_integer>`)
}

func TestReportPromptFields(t *testing.T) {
	got := Report(testDay, "Meta Platforms Inc.", "8", "strong signals", []string{"lead with ROI", "target sports"})

	assert.Contains(t, got, "Company Name: Meta Platforms Inc.")
	assert.Contains(t, got, "Propensity Score: 8")
	assert.Contains(t, got, "Rationale: strong signals")
	assert.Contains(t, got, "- lead with ROI\n- target sports")
	assert.Contains(t, got, "Business Report: Meta Platforms Inc. Advertiser Opportunity Analysis")
}

func TestFormatRecommendations(t *testing.T) {
	assert.Equal(t, "", FormatRecommendations(nil))
	assert.Equal(t, "- only one", FormatRecommendations([]string{"only one"}))
	assert.Equal(t, "- a\n- b", FormatRecommendations([]string{"a", "b"}))
}

func TestDateLayout(t *testing.T) {
	assert.Equal(t, "January 02, 2006", DateLayout)
	assert.Equal(t, "March 07, 2025", testDay.Format(DateLayout))
}
