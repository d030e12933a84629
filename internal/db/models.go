package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// AnalysisRun is the durable record of one finished analysis run.
// Rows are idempotent by run_id.
type AnalysisRun struct {
	ID             uuid.UUID `db:"id"`
	RunID          string    `db:"run_id"`
	ConversationID *string   `db:"conversation_id"`
	UserID         *string   `db:"user_id"`
	Query          string    `db:"query"`
	Status         string    `db:"status"`

	// Outcome
	PropensityScore float64 `db:"propensity_score"`
	ScoreCategory   string  `db:"score_category"`
	VisualIndicator string  `db:"visual_indicator"`
	Response        string  `db:"response"`

	// Timing
	StartedAt   time.Time `db:"started_at"`
	CompletedAt time.Time `db:"completed_at"`
	DurationMs  int64     `db:"duration_ms"`

	// Metadata
	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// MessageRecord is one conversation message archived to Postgres.
type MessageRecord struct {
	ID             uuid.UUID `db:"id"`
	ConversationID string    `db:"conversation_id"`
	RunID          *string   `db:"run_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
}

// RunFilter provides filtering options for run history queries
type RunFilter struct {
	ConversationID *string
	Status         *string
	Since          *time.Time
	Limit          int
	Offset         int
}

// RunStats represents aggregated run statistics
type RunStats struct {
	TotalRuns     int     `db:"total_runs"`
	CompletedRuns int     `db:"completed_runs"`
	FailedRuns    int     `db:"failed_runs"`
	TimedOutRuns  int     `db:"timed_out_runs"`
	AvgScore      float64 `db:"avg_score"`
	AvgDurationMs float64 `db:"avg_duration_ms"`
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
