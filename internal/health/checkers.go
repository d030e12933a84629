package health

import (
	"context"
	"fmt"

	"github.com/signalworks/propensity/internal/circuitbreaker"
)

// RedisChecker probes the conversation store connection through its
// circuit-breaker wrapper, so an open breaker shows up as unhealthy.
type RedisChecker struct {
	redis *circuitbreaker.RedisWrapper
}

func NewRedisChecker(rw *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{redis: rw}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	if c.redis == nil {
		return fmt.Errorf("redis client not configured")
	}
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// DBPinger matches database/sql's PingContext.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// PostgresChecker probes the history store pool.
type PostgresChecker struct {
	db DBPinger
}

func NewPostgresChecker(db DBPinger) *PostgresChecker { return &PostgresChecker{db: db} }

func (c *PostgresChecker) Name() string { return "postgres" }

func (c *PostgresChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not configured")
	}
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// CheckFunc adapts a function to the Checker interface; used for the LLM
// reachability probe, which only verifies configuration rather than
// spending tokens on a live completion.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }
