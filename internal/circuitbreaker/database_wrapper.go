package circuitbreaker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps the history store database with a circuit breaker
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgresql", databaseBreakerConfig(), logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "history-store", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})

	dw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// QueryContext wraps database query with circuit breaker
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})

	dw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return rows, err
}

// QueryRowContext wraps database query row with circuit breaker.
// sql.Row defers its error to Scan, so a breaker rejection surfaces
// through the explicit error return instead.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row

	cbErr := dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})

	dw.record(cbErr == nil)

	if cbErr != nil {
		return nil, cbErr
	}

	return row, nil
}

// ExecContext wraps database exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		result, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})

	dw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

// TxWrapper wraps sql.Tx with circuit breaker protection
type TxWrapper struct {
	tx     *sql.Tx
	cb     *CircuitBreaker
	logger *zap.Logger
}

// BeginTx wraps database transaction begin with circuit breaker
func (dw *DatabaseWrapper) BeginTx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sql.Tx
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		tx, err = dw.db.BeginTx(ctx, opts)
		return err
	})

	dw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	if err != nil {
		return nil, err
	}

	return &TxWrapper{
		tx:     tx,
		cb:     dw.cb,
		logger: dw.logger,
	}, nil
}

func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error

	cbErr := tw.cb.Execute(ctx, func() error {
		result, err = tw.tx.ExecContext(ctx, query, args...)
		return err
	})

	tw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

func (tw *TxWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	cbErr := tw.cb.Execute(ctx, func() error {
		rows, err = tw.tx.QueryContext(ctx, query, args...)
		return err
	})

	tw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return nil, cbErr
	}
	return rows, err
}

func (tw *TxWrapper) Commit() error {
	var err error

	cbErr := tw.cb.Execute(context.Background(), func() error {
		err = tw.tx.Commit()
		return err
	})

	tw.record(cbErr == nil && err == nil)

	if cbErr != nil {
		return cbErr
	}
	return err
}

func (tw *TxWrapper) Rollback() error {
	// Never gate rollback behind the breaker
	return tw.tx.Rollback()
}

func (dw *DatabaseWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("postgresql", "history-store", dw.cb.State(), success)
}

func (tw *TxWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("postgresql", "history-store", tw.cb.State(), success)
}

// Stats returns database stats
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the database connection
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// SetMaxOpenConns sets the maximum number of open connections
func (dw *DatabaseWrapper) SetMaxOpenConns(n int) {
	dw.db.SetMaxOpenConns(n)
}

// SetMaxIdleConns sets the maximum number of idle connections
func (dw *DatabaseWrapper) SetMaxIdleConns(n int) {
	dw.db.SetMaxIdleConns(n)
}

// SetConnMaxLifetime sets the maximum connection lifetime
func (dw *DatabaseWrapper) SetConnMaxLifetime(d time.Duration) {
	dw.db.SetConnMaxLifetime(d)
}

// GetDB returns the underlying database connection for operations not covered by wrapper
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
