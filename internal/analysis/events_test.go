package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsDeclaredOrder(t *testing.T) {
	assert.Equal(t, []AnalysisKind{
		KindMarketingSignal,
		KindLeadershipChange,
		KindCompetitorAdSpend,
		KindThreeMonthReport,
	}, Kinds())
}

func TestKindLabels(t *testing.T) {
	assert.Equal(t, "marketing signal", KindMarketingSignal.Label())
	assert.Equal(t, "leadership change", KindLeadershipChange.Label())
	assert.Equal(t, "competitor ad spend", KindCompetitorAdSpend.Label())
	assert.Equal(t, "three month report", KindThreeMonthReport.Label())
}

func TestKindTrailers(t *testing.T) {
	assert.Equal(t, "Please research and analyze the marketing signals for the company mentioned in the user query.", KindMarketingSignal.trailer())
	assert.Equal(t, "Please research and analyze leadership changes for the company mentioned in the user query.", KindLeadershipChange.trailer())
	assert.Equal(t, "Please research and analyze competitor ad spending for the company mentioned in the user query.", KindCompetitorAdSpend.trailer())
	assert.Equal(t, "Please research and analyze the 3-month stock performance for the company mentioned in the user query.", KindThreeMonthReport.trailer())
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid())
	}
	assert.False(t, AnalysisKind("weather").Valid())
}

func TestFallbackResult(t *testing.T) {
	r := FallbackResult("Analyze Meta")
	assert.Equal(t, "Analyze Meta", r.UserQuery)
	assert.Equal(t, 0.0, r.PropensityScore)
	assert.Equal(t, "Error", r.ScoreCategory)
	assert.Equal(t, "🔴 Error", r.VisualIndicator)
	assert.Contains(t, r.Response, "**Error:** The analysis could not be completed due to a technical issue. Please try again later.")
}
