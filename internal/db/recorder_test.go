package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/analysis"
)

func completedRun(id, conversationID string) analysis.Run {
	now := time.Now()
	return analysis.Run{
		ID:             id,
		ConversationID: conversationID,
		UserID:         "user@example.com",
		Query:          "Analyze Meta",
		State:          analysis.StateCompleted,
		StartedAt:      now.Add(-30 * time.Second),
		CompletedAt:    now,
		Result: analysis.FinalResult{
			UserQuery:       "Analyze Meta",
			Response:        "## Propensity Score Analysis: Analyze Meta",
			PropensityScore: 8,
			ScoreCategory:   "High",
			VisualIndicator: "🟢 High",
		},
	}
}

func TestRecorderQueuesRunAndMessagePair(t *testing.T) {
	c, _ := newIdleClient(t)
	rec := NewRecorder(c, zap.NewNop())

	run := completedRun("run-1", "conv-1")
	rec.RunFinished(context.Background(), run)

	if n := len(c.writeQueue); n != 3 {
		t.Fatalf("expected 3 queued writes, got %d", n)
	}

	req := <-c.writeQueue
	if req.Type != WriteTypeRun {
		t.Fatalf("expected run write first, got %s", req.Type)
	}
	record, ok := req.Data.(*AnalysisRun)
	if !ok {
		t.Fatalf("unexpected data type %T", req.Data)
	}
	if record.RunID != "run-1" || record.Status != "completed" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.ConversationID == nil || *record.ConversationID != "conv-1" {
		t.Errorf("unexpected conversation id: %v", record.ConversationID)
	}
	if record.UserID == nil || *record.UserID != "user@example.com" {
		t.Errorf("unexpected user id: %v", record.UserID)
	}
	if record.PropensityScore != 8 || record.ScoreCategory != "High" {
		t.Errorf("unexpected outcome fields: %+v", record)
	}
	if record.DurationMs != 30000 {
		t.Errorf("expected 30000ms duration, got %d", record.DurationMs)
	}

	userReq := <-c.writeQueue
	userMsg, ok := userReq.Data.(*MessageRecord)
	if !ok || userReq.Type != WriteTypeMessage {
		t.Fatalf("expected user message write, got %s %T", userReq.Type, userReq.Data)
	}
	if userMsg.Role != "user" || userMsg.Content != "Analyze Meta" {
		t.Errorf("unexpected user message: %+v", userMsg)
	}
	if userMsg.RunID == nil || *userMsg.RunID != "run-1" {
		t.Errorf("unexpected run link: %v", userMsg.RunID)
	}
	if !userMsg.CreatedAt.Equal(run.StartedAt) {
		t.Errorf("user message should carry the run start time")
	}

	assistantReq := <-c.writeQueue
	assistantMsg, ok := assistantReq.Data.(*MessageRecord)
	if !ok || assistantReq.Type != WriteTypeMessage {
		t.Fatalf("expected assistant message write, got %s %T", assistantReq.Type, assistantReq.Data)
	}
	if assistantMsg.Role != "assistant" || assistantMsg.Content != run.Result.Response {
		t.Errorf("unexpected assistant message: %+v", assistantMsg)
	}
	if !assistantMsg.CreatedAt.Equal(run.CompletedAt) {
		t.Errorf("assistant message should carry the run completion time")
	}
}

func TestRecorderSkipsMessagesWithoutConversation(t *testing.T) {
	c, _ := newIdleClient(t)
	rec := NewRecorder(c, zap.NewNop())

	run := completedRun("run-2", "")
	run.State = analysis.StateFailed
	run.Result = analysis.FallbackResult("Analyze Meta")
	rec.RunFinished(context.Background(), run)

	if n := len(c.writeQueue); n != 1 {
		t.Fatalf("expected only the run write, got %d", n)
	}

	req := <-c.writeQueue
	record := req.Data.(*AnalysisRun)
	if record.Status != "failed" {
		t.Errorf("expected failed status, got %s", record.Status)
	}
	if record.ConversationID != nil {
		t.Errorf("expected nil conversation id, got %v", *record.ConversationID)
	}
	if record.ScoreCategory != "Error" {
		t.Errorf("expected fallback category, got %s", record.ScoreCategory)
	}
}

func TestRecorderIgnoresNonTerminalRuns(t *testing.T) {
	c, _ := newIdleClient(t)
	rec := NewRecorder(c, zap.NewNop())

	run := completedRun("run-3", "conv-1")
	run.State = analysis.StateRunning
	rec.RunFinished(context.Background(), run)
	rec.RunStarted(context.Background(), run)

	if n := len(c.writeQueue); n != 0 {
		t.Fatalf("expected no writes for a non-terminal run, got %d", n)
	}
}

func TestRecorderWritesThroughQueue(t *testing.T) {
	c, mock := newTestClient(t)
	rec := NewRecorder(c, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO analysis_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	rec.RunFinished(context.Background(), completedRun("run-4", "conv-1"))

	// Let the worker process the run and batch the message pair, then
	// close to flush.
	time.Sleep(100 * time.Millisecond)
	mock.ExpectClose()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
