package analysis

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/companies"
	"github.com/signalworks/propensity/internal/formatting"
	"github.com/signalworks/propensity/internal/metrics"
	"github.com/signalworks/propensity/internal/prompts"
	"github.com/signalworks/propensity/internal/streaming"
	"github.com/signalworks/propensity/internal/tracing"
)

// eventBuffer exceeds the total number of events a run can ever produce
// (start, four requests, four results, score, report, final), so task
// goroutines never block on send and cannot leak when the run is abandoned.
const eventBuffer = 16

// CompletionClient produces a completion for a single prompt.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ResearchAgent answers a research prompt. The raw user query rides along
// as the search term for web-grounded implementations.
type ResearchAgent interface {
	Run(ctx context.Context, prompt, query string) (string, error)
}

// Engine executes analysis runs. It is stateless across runs and safe for
// concurrent use.
type Engine struct {
	completion CompletionClient
	research   ResearchAgent
	streams    *streaming.Manager
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(completion CompletionClient, research ResearchAgent, streams *streaming.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		completion: completion,
		research:   research,
		streams:    streams,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs the full pipeline for one query and returns the finished
// result. On context cancellation it returns ctx.Err(); in-flight task
// goroutines finish into the buffered channel and are garbage collected.
func (e *Engine) Execute(ctx context.Context, runID, query string) (FinalResult, error) {
	ctx, span := tracing.StartRunSpan(ctx, runID, query)
	defer span.End()

	events := make(chan Event, eventBuffer)
	events <- StartEvent{Query: query}

	bar := newBarrier(kindOrder)

	for {
		select {
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		case raw := <-events:
			switch ev := raw.(type) {
			case StartEvent:
				for _, k := range Kinds() {
					events <- AnalysisRequest{Kind: k, Query: ev.Query}
				}

			case AnalysisRequest:
				e.publish(runID, streaming.EventAnalysisStarted, ev.Kind, ev.Kind.Label()+" analysis started")
				go e.runResearch(ctx, runID, ev, events)

			case AnalysisResult:
				if !bar.accept(ev) {
					e.logger.Warn("dropping duplicate analysis result",
						zap.String("run_id", runID),
						zap.String("kind", string(ev.Kind)))
					metrics.DuplicateResults.WithLabelValues(string(ev.Kind)).Inc()
					continue
				}
				e.publish(runID, streaming.EventAnalysisCompleted, ev.Kind, ev.Kind.Label()+" analysis completed")
				if bar.complete() {
					metrics.BarrierWaitDuration.Observe(bar.waitDuration().Seconds())
					e.publish(runID, streaming.EventAnalysesJoined, "", "all analyses joined")
					go e.runScoring(ctx, runID, bar.collected(), events)
				}

			case ScoredResult:
				metrics.ScoreDistribution.Observe(ev.Score)
				e.publish(runID, streaming.EventScoreAssigned, "", "propensity score "+formatting.Score(ev.Score)+"/10")
				go e.runReport(ctx, runID, query, ev, events)

			case FormattedReport:
				e.publish(runID, streaming.EventReportGenerated, "", "business report generated")
				events <- FinalEvent{Result: newFinalResult(query, ev.Score, ev.Text)}

			case FinalEvent:
				return ev.Result, nil
			}
		}
	}
}

// runResearch executes one research task. Failures are folded into the
// result text so a single bad task cannot sink the run.
func (e *Engine) runResearch(ctx context.Context, runID string, req AnalysisRequest, out chan<- Event) {
	ctx, span := tracing.StartTaskSpan(ctx, string(req.Kind))
	defer span.End()

	start := time.Now()
	prompt := prompts.Research(req.Kind.rolePrompt(), e.now(), req.Query, req.Kind.trailer())

	text, err := e.research.Run(ctx, prompt, req.Query)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("analysis task failed",
			zap.String("run_id", runID),
			zap.String("kind", string(req.Kind)),
			zap.Error(err))
		metrics.RecordAnalysisTask(string(req.Kind), "error", time.Since(start).Seconds())
		out <- AnalysisResult{Kind: req.Kind, Text: "Error in " + req.Kind.Label() + " analysis: " + err.Error()}
		return
	}
	metrics.RecordAnalysisTask(string(req.Kind), "ok", time.Since(start).Seconds())
	out <- AnalysisResult{Kind: req.Kind, Text: text}
}

// runScoring feeds the joined findings to the analyzer and parses its
// response. An analyzer failure becomes a zero score whose rationale is the
// error text; the run keeps going either way.
func (e *Engine) runScoring(ctx context.Context, runID string, findings []string, out chan<- Event) {
	prompt := prompts.Analyzer(e.now(), findings[0], findings[1], findings[2], findings[3])

	raw, err := e.completion.Complete(ctx, prompt)
	if err != nil {
		e.logger.Error("analyzer call failed", zap.String("run_id", runID), zap.Error(err))
		out <- ScoredResult{Score: 0, Rationale: "Error in analyzer agent: " + err.Error()}
		return
	}
	out <- parseScoredResult(raw)
}

// runReport generates the business report for the scored result. The report
// prompt sees the normalized company name; the raw query stays in the final
// narrative title.
func (e *Engine) runReport(ctx context.Context, runID, query string, sr ScoredResult, out chan<- Event) {
	company := companies.Normalize(query)
	prompt := prompts.Report(e.now(), company, formatting.Score(sr.Score), sr.Rationale, sr.Recommendations)

	text, err := e.completion.Complete(ctx, prompt)
	if err != nil {
		e.logger.Error("report generation failed", zap.String("run_id", runID), zap.Error(err))
		text = "Error in report generation: " + err.Error()
	}
	out <- FormattedReport{Text: strings.TrimSpace(text), Score: sr.Score}
}

func (e *Engine) publish(runID, eventType string, kind AnalysisKind, message string) {
	if e.streams == nil {
		return
	}
	e.streams.Publish(streaming.Event{
		RunID:     runID,
		Type:      eventType,
		Kind:      string(kind),
		Message:   message,
		Timestamp: time.Now(),
	})
}
