package circuitbreaker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper wraps the conversation store Redis client with a circuit breaker
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", redisBreakerConfig(), logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "conversation-store", cb)

	return &RedisWrapper{
		client: client,
		cb:     cb,
		logger: logger,
	}
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// Get wraps Redis Get with circuit breaker
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		// Redis Nil is an absent key, not a backend failure
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil || result.Err() == redis.Nil))

	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// SAdd wraps Redis SAdd with circuit breaker
func (rw *RedisWrapper) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.SAdd(ctx, key, members...)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// SRem wraps Redis SRem with circuit breaker
func (rw *RedisWrapper) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.SRem(ctx, key, members...)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// SMembers wraps Redis SMembers with circuit breaker
func (rw *RedisWrapper) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.SMembers(ctx, key)
		return result.Err()
	})

	rw.record(err == nil && (result == nil || result.Err() == nil))

	if err != nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}

	return result
}

func (rw *RedisWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", "conversation-store", rw.cb.State(), success)
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not covered by wrapper
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
