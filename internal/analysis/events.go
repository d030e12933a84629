// Package analysis implements the propensity analysis pipeline: four
// concurrent research tasks joined at a barrier, a scoring pass, report
// generation, and final formatting, driven by a closed set of events.
package analysis

import "github.com/signalworks/propensity/internal/prompts"

// AnalysisKind identifies one of the four research tasks.
type AnalysisKind string

const (
	KindMarketingSignal   AnalysisKind = "marketing_signal"
	KindLeadershipChange  AnalysisKind = "leadership_change"
	KindCompetitorAdSpend AnalysisKind = "competitor_ad_spend"
	KindThreeMonthReport  AnalysisKind = "three_month_report"
)

// kindOrder fixes the declared order of the research tasks. Join results are
// always consumed in this order, regardless of arrival.
var kindOrder = []AnalysisKind{
	KindMarketingSignal,
	KindLeadershipChange,
	KindCompetitorAdSpend,
	KindThreeMonthReport,
}

// Kinds returns the research kinds in declared order.
func Kinds() []AnalysisKind {
	out := make([]AnalysisKind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// Valid reports whether k is one of the declared kinds.
func (k AnalysisKind) Valid() bool {
	switch k {
	case KindMarketingSignal, KindLeadershipChange, KindCompetitorAdSpend, KindThreeMonthReport:
		return true
	}
	return false
}

// Label is the human name used in error texts and logs.
func (k AnalysisKind) Label() string {
	switch k {
	case KindMarketingSignal:
		return "marketing signal"
	case KindLeadershipChange:
		return "leadership change"
	case KindCompetitorAdSpend:
		return "competitor ad spend"
	case KindThreeMonthReport:
		return "three month report"
	}
	return string(k)
}

// rolePrompt is the system prompt for the kind's research task.
func (k AnalysisKind) rolePrompt() string {
	switch k {
	case KindMarketingSignal:
		return prompts.MarketingSignal
	case KindLeadershipChange:
		return prompts.LeadershipChange
	case KindCompetitorAdSpend:
		return prompts.CompetitorAdSpend
	case KindThreeMonthReport:
		return prompts.ThreeMonthReport
	}
	return ""
}

// trailer is the instruction appended after the user query for the kind's
// research task.
func (k AnalysisKind) trailer() string {
	switch k {
	case KindMarketingSignal:
		return "Please research and analyze the marketing signals for the company mentioned in the user query."
	case KindLeadershipChange:
		return "Please research and analyze leadership changes for the company mentioned in the user query."
	case KindCompetitorAdSpend:
		return "Please research and analyze competitor ad spending for the company mentioned in the user query."
	case KindThreeMonthReport:
		return "Please research and analyze the 3-month stock performance for the company mentioned in the user query."
	}
	return ""
}

// Event is one message in a run's dispatch loop. The set of variants is
// closed: the loop switches over concrete types and nothing else can
// implement the interface.
type Event interface {
	isEvent()
}

// StartEvent kicks off a run.
type StartEvent struct {
	Query string
}

// AnalysisRequest asks one research task to execute.
type AnalysisRequest struct {
	Kind  AnalysisKind
	Query string
}

// AnalysisResult is one research task's finding. Task failures arrive as
// well-formed results whose text describes the error.
type AnalysisResult struct {
	Kind AnalysisKind
	Text string
}

// ScoredResult is the analyzer's synthesis of the four findings.
type ScoredResult struct {
	Score           float64
	Rationale       string
	Recommendations []string
}

// FormattedReport is the generated business report.
type FormattedReport struct {
	Text  string
	Score float64
}

// FinalEvent carries the finished result and ends the loop.
type FinalEvent struct {
	Result FinalResult
}

func (StartEvent) isEvent()      {}
func (AnalysisRequest) isEvent() {}
func (AnalysisResult) isEvent()  {}
func (ScoredResult) isEvent()    {}
func (FormattedReport) isEvent() {}
func (FinalEvent) isEvent()      {}
