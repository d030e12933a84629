package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestSaveRunUpsertReturnsID(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	want := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO analysis_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(want.String()))

	convID := "conv-1"
	run := &AnalysisRun{
		RunID:           "run-1",
		ConversationID:  &convID,
		Query:           "Analyze Meta",
		Status:          "completed",
		PropensityScore: 8,
		ScoreCategory:   "High",
		VisualIndicator: "🟢 High",
		Response:        "## Propensity Score Analysis: Analyze Meta",
		StartedAt:       time.Now().Add(-30 * time.Second),
		CompletedAt:     time.Now(),
		DurationMs:      30000,
	}
	if err := c.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID != want {
		t.Errorf("expected id %s from upsert, got %s", want, run.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveMessageInsert(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	runID := "run-1"
	msg := &MessageRecord{
		ConversationID: "conv-1",
		RunID:          &runID,
		Role:           "assistant",
		Content:        "## Propensity Score Analysis: Analyze Meta",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), "conv-1", "run-1", "assistant", msg.Content, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := c.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if msg.ID == uuid.Nil {
		t.Error("expected SaveMessage to assign an id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBatchSaveMessagesSingleStatement(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	msgs := []*MessageRecord{
		{ConversationID: "conv-1", Role: "user", Content: "Analyze Meta"},
		{ConversationID: "conv-1", Role: "assistant", Content: "report text"},
	}
	if err := c.BatchSaveMessages(ctx, msgs); err != nil {
		t.Fatalf("BatchSaveMessages: %v", err)
	}
	for i, msg := range msgs {
		if msg.ID == uuid.Nil {
			t.Errorf("message %d: expected assigned id", i)
		}
	}

	// Empty batch is a no-op with no database call.
	if err := c.BatchSaveMessages(ctx, nil); err != nil {
		t.Fatalf("BatchSaveMessages(nil): %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetRunScansRecord(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	completed := started.Add(42 * time.Second)

	rows := sqlmock.NewRows([]string{
		"id", "run_id", "conversation_id", "user_id", "query", "status",
		"propensity_score", "score_category", "visual_indicator", "response",
		"started_at", "completed_at", "duration_ms", "metadata", "created_at",
	}).AddRow(
		uuid.New().String(), "run-1", "conv-1", nil, "Analyze Meta", "completed",
		8.0, "High", "🟢 High", "narrative",
		started, completed, int64(42000), []byte(`{"source":"api"}`), completed,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := c.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("expected run, got nil")
	}
	if run.RunID != "run-1" || run.Status != "completed" {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.ConversationID == nil || *run.ConversationID != "conv-1" {
		t.Errorf("unexpected conversation id: %v", run.ConversationID)
	}
	if run.UserID != nil {
		t.Errorf("expected nil user id, got %v", *run.UserID)
	}
	if run.PropensityScore != 8 {
		t.Errorf("expected score 8, got %v", run.PropensityScore)
	}
	if run.Metadata["source"] != "api" {
		t.Errorf("unexpected metadata: %v", run.Metadata)
	}

	// Missing row returns nil without an error.
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs WHERE run_id = $1")).
		WithArgs("run-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err = c.GetRun(ctx, "run-missing")
	if err != nil {
		t.Fatalf("GetRun(missing): %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run for missing row, got %+v", run)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListRunsAppliesFilter(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"id", "run_id", "conversation_id", "user_id", "query", "status",
		"propensity_score", "score_category", "visual_indicator", "response",
		"started_at", "completed_at", "duration_ms", "metadata", "created_at",
	}).AddRow(
		uuid.New().String(), "run-2", "conv-1", nil, "Analyze Tesla", "completed",
		5.0, "Medium", "🟡 Medium", "narrative", now, now, int64(1000), nil, now,
	).AddRow(
		uuid.New().String(), "run-1", "conv-1", nil, "Analyze Meta", "completed",
		8.0, "High", "🟢 High", "narrative", now, now, int64(2000), nil, now,
	)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("completed", 50).
		WillReturnRows(rows)

	status := "completed"
	runs, err := c.ListRuns(ctx, RunFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-2" || runs[1].RunID != "run-1" {
		t.Errorf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListMessagesForConversation(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "run_id", "role", "content", "created_at"}).
		AddRow(uuid.New().String(), "conv-1", "run-1", "user", "Analyze Meta", now).
		AddRow(uuid.New().String(), "conv-1", "run-1", "assistant", "report text", now.Add(time.Second))

	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs("conv-1", 200).
		WillReturnRows(rows)

	msgs, err := c.ListMessages(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].RunID == nil || *msgs[1].RunID != "run-1" {
		t.Errorf("unexpected run id: %v", msgs[1].RunID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetRunStatsAggregates(t *testing.T) {
	c, mock := newTestClient(t)
	defer c.Close()
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"total_runs", "completed_runs", "failed_runs", "timed_out_runs", "avg_score", "avg_duration_ms",
	}).AddRow(10, 7, 2, 1, 6.5, 42000.0)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS total_runs")).
		WillReturnRows(rows)

	stats, err := c.GetRunStats(ctx)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.TotalRuns != 10 || stats.CompletedRuns != 7 || stats.FailedRuns != 2 || stats.TimedOutRuns != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.AvgScore != 6.5 {
		t.Errorf("expected avg score 6.5, got %v", stats.AvgScore)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
