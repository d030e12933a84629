package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/metrics"
)

// SaveRun saves or updates a finished run record (idempotent by run_id)
func (c *Client) SaveRun(ctx context.Context, run *AnalysisRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO analysis_runs (
			id, run_id, conversation_id, user_id, query, status,
			propensity_score, score_category, visual_indicator, response,
			started_at, completed_at, duration_ms, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			propensity_score = EXCLUDED.propensity_score,
			score_category = EXCLUDED.score_category,
			visual_indicator = EXCLUDED.visual_indicator,
			response = EXCLUDED.response,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms,
			metadata = CASE
				WHEN EXCLUDED.metadata IS NULL THEN analysis_runs.metadata
				ELSE EXCLUDED.metadata
			END
		RETURNING id`

	row, err := c.db.QueryRowContext(ctx, query,
		run.ID, run.RunID, run.ConversationID, run.UserID, run.Query, run.Status,
		run.PropensityScore, run.ScoreCategory, run.VisualIndicator, run.Response,
		run.StartedAt, run.CompletedAt, run.DurationMs, run.Metadata, run.CreatedAt,
	)
	if err == nil {
		err = row.Scan(&run.ID)
	}
	if err != nil {
		metrics.DBWrites.WithLabelValues("run", "error").Inc()
		return fmt.Errorf("failed to save run: %w", err)
	}
	metrics.DBWrites.WithLabelValues("run", "ok").Inc()

	c.logger.Debug("Run record saved",
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
	)

	return nil
}

// SaveMessage archives a single conversation message
func (c *Client) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO messages (
			id, conversation_id, run_id, role, content, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (id) DO NOTHING`

	_, err := c.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.RunID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		metrics.DBWrites.WithLabelValues("message", "error").Inc()
		return fmt.Errorf("failed to save message: %w", err)
	}
	metrics.DBWrites.WithLabelValues("message", "ok").Inc()

	return nil
}

// BatchSaveMessages archives multiple messages in a single statement
func (c *Client) BatchSaveMessages(ctx context.Context, msgs []*MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(msgs))
	valueArgs := make([]interface{}, 0, len(msgs)*6)

	for i, msg := range msgs {
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}

		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6,
		))

		valueArgs = append(valueArgs,
			msg.ID, msg.ConversationID, msg.RunID, msg.Role, msg.Content, msg.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO messages (
			id, conversation_id, run_id, role, content, created_at
		) VALUES %s
		ON CONFLICT (id) DO NOTHING`,
		strings.Join(valueStrings, ","),
	)

	_, err := c.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		metrics.DBWrites.WithLabelValues("message", "error").Inc()
		return fmt.Errorf("failed to batch save messages: %w", err)
	}
	metrics.DBWrites.WithLabelValues("message", "ok").Inc()

	return nil
}

const runColumns = `id, run_id, conversation_id, user_id, query, status,
	propensity_score, score_category, visual_indicator, response,
	started_at, completed_at, duration_ms, metadata, created_at`

// GetRun retrieves a run record by run ID. Returns nil when no row exists.
func (c *Client) GetRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	var run AnalysisRun

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE run_id = $1`

	err := c.dbx.GetContext(ctx, &run, query, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns returns run records matching the filter, newest first
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]*AnalysisRun, error) {
	query := `SELECT ` + runColumns + ` FROM analysis_runs`

	var conds []string
	var args []interface{}

	if filter.ConversationID != nil {
		args = append(args, *filter.ConversationID)
		conds = append(conds, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var runs []*AnalysisRun
	if err := c.dbx.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// ListMessages returns the archived messages of a conversation, oldest first
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, conversation_id, run_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	var msgs []*MessageRecord
	if err := c.dbx.SelectContext(ctx, &msgs, query, conversationID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return msgs, nil
}

// GetRunStats returns aggregate statistics over the run history
func (c *Client) GetRunStats(ctx context.Context) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed_runs,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_runs,
			COUNT(*) FILTER (WHERE status = 'timed_out') AS timed_out_runs,
			COALESCE(AVG(propensity_score) FILTER (WHERE status = 'completed'), 0) AS avg_score,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM analysis_runs`

	var stats RunStats
	if err := c.dbx.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}

	return &stats, nil
}
