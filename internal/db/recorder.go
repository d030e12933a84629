package db

import (
	"context"

	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/analysis"
)

// Recorder bridges run lifecycle callbacks to the history store. In-flight
// run state stays in memory; a row is written only once a run reaches a
// terminal state.
type Recorder struct {
	client *Client
	logger *zap.Logger
}

func NewRecorder(client *Client, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{client: client, logger: logger}
}

// RunStarted is log-only; nothing is persisted for a run still executing.
func (r *Recorder) RunStarted(ctx context.Context, run analysis.Run) {
	r.logger.Debug("analysis run started",
		zap.String("run_id", run.ID),
		zap.String("conversation_id", run.ConversationID),
	)
}

// RunFinished queues the terminal run record and, when the run belongs to a
// conversation, the user/assistant message pair it produced.
func (r *Recorder) RunFinished(ctx context.Context, run analysis.Run) {
	if !run.State.Terminal() {
		return
	}

	record := &AnalysisRun{
		RunID:           run.ID,
		ConversationID:  nullableString(run.ConversationID),
		UserID:          nullableString(run.UserID),
		Query:           run.Query,
		Status:          string(run.State),
		PropensityScore: run.Result.PropensityScore,
		ScoreCategory:   run.Result.ScoreCategory,
		VisualIndicator: run.Result.VisualIndicator,
		Response:        run.Result.Response,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
		DurationMs:      run.CompletedAt.Sub(run.StartedAt).Milliseconds(),
	}

	runID := run.ID
	_ = r.client.QueueWrite(WriteTypeRun, record, func(err error) {
		if err != nil {
			r.logger.Error("failed to persist run record",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	})

	if run.ConversationID == "" {
		return
	}

	userMsg := &MessageRecord{
		ConversationID: run.ConversationID,
		RunID:          &runID,
		Role:           "user",
		Content:        run.Query,
		CreatedAt:      run.StartedAt,
	}
	assistantMsg := &MessageRecord{
		ConversationID: run.ConversationID,
		RunID:          &runID,
		Role:           "assistant",
		Content:        run.Result.Response,
		CreatedAt:      run.CompletedAt,
	}
	_ = r.client.QueueWrite(WriteTypeMessage, userMsg, nil)
	_ = r.client.QueueWrite(WriteTypeMessage, assistantMsg, nil)
}

var _ analysis.RunRecorder = (*Recorder)(nil)
