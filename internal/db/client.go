// Package db archives finished analysis runs and their conversation
// messages to Postgres. Writes go through a bounded async queue so the
// request path never blocks on the database; reads use sqlx scanning.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/circuitbreaker"
	"github.com/signalworks/propensity/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and operations
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	dbx    *sqlx.DB
	logger *zap.Logger
	config *Config

	// Write queue for async operations
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup // Track worker goroutines for graceful shutdown
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeRun WriteType = iota
	WriteTypeMessage
)

// String returns the metrics label for the write type
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeRun:
		return "run"
	case WriteTypeMessage:
		return "message"
	default:
		return "unknown"
	}
}

const (
	writeQueueSize   = 512
	writeWorkerCount = 4
	messageBatchSize = 50
)

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	// Writes run through the circuit breaker; reads share the same pool
	// via sqlx for struct scanning.
	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)
	dbx := sqlx.NewDb(rawDB, "postgres")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:         db,
		dbx:        dbx,
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, writeQueueSize),
		workers:    writeWorkerCount,
		stopCh:     make(chan struct{}),
	}

	client.startWorkers()

	go client.healthCheck()

	logger.Info("History store initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// startWorkers initializes the worker pool for async writes
func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes write requests from the queue. Message writes
// accumulate into a small batch flushed by size or once a second; run
// writes go out immediately.
func (c *Client) writeWorker(id int) {
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	batch := make([]*MessageRecord, 0, messageBatchSize)
	batchTicker := time.NewTicker(1 * time.Second)
	defer batchTicker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.drainQueue(batch)
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			c.workerWg.Done()
			return

		case req := <-c.writeQueue:
			metrics.DBWriteQueueDepth.Set(float64(len(c.writeQueue)))
			switch req.Type {
			case WriteTypeMessage:
				if msg, ok := req.Data.(*MessageRecord); ok {
					batch = append(batch, msg)
				}
				if len(batch) >= messageBatchSize {
					c.flushMessages(batch)
					batch = batch[:0]
				}
			default:
				c.processWrite(req)
			}

		case <-batchTicker.C:
			if len(batch) > 0 {
				c.flushMessages(batch)
				batch = batch[:0]
			}
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req WriteRequest) {
	var err error

	switch req.Type {
	case WriteTypeRun:
		if run, ok := req.Data.(*AnalysisRun); ok {
			err = c.SaveRun(context.Background(), run)
		}
	case WriteTypeMessage:
		if msg, ok := req.Data.(*MessageRecord); ok {
			err = c.SaveMessage(context.Background(), msg)
		}
	}

	if req.Callback != nil {
		req.Callback(err)
	}

	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

// flushMessages writes an accumulated message batch in one statement
func (c *Client) flushMessages(batch []*MessageRecord) {
	if len(batch) == 0 {
		return
	}
	if err := c.BatchSaveMessages(context.Background(), batch); err != nil {
		c.logger.Error("Failed to flush message batch",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue(batch []*MessageRecord) {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			c.flushMessages(batch)
			return
		default:
			// Queue is empty
			c.flushMessages(batch)
			return
		}
	}
}

// QueueWrite adds a write request to the async queue
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) error {
	select {
	case c.writeQueue <- WriteRequest{
		Type:     writeType,
		Data:     data,
		Callback: callback,
	}:
		metrics.DBWriteQueueDepth.Set(float64(len(c.writeQueue)))
		return nil
	default:
		// Queue is full - use synchronous fallback to avoid dropping writes
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))

		c.processWrite(WriteRequest{
			Type:     writeType,
			Data:     data,
			Callback: callback,
		})
		return nil
	}
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down history store")

	close(c.stopCh)
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("History store closed")
	return nil
}

// GetDB returns the underlying database connection for direct queries
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// DBx returns the sqlx handle sharing the client's connection pool
func (c *Client) DBx() *sqlx.DB {
	return c.dbx
}

// WithTransaction runs fn inside a circuit breaker protected transaction
func (c *Client) WithTransaction(ctx context.Context, fn func(*circuitbreaker.TxWrapper) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks and monitoring
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
