package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	mirrorQueueSize  = 1024
	mirrorStreamMax  = 512
	mirrorStreamTTL  = 24 * time.Hour
	mirrorAppendWait = 2 * time.Second
)

// RedisMirror appends published events to per-run Redis streams so external
// consumers can tail runs and replay survives process restarts. Appends are
// asynchronous; when the queue is full events are dropped from the mirror,
// never from in-process subscribers.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}
}

func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RedisMirror{
		client: client,
		logger: logger,
		queue:  make(chan Event, mirrorQueueSize),
		done:   make(chan struct{}),
	}
	go m.appendLoop()
	return m
}

func streamKey(runID string) string {
	return fmt.Sprintf("propensity:run:%s:events", runID)
}

func (m *RedisMirror) enqueue(evt Event) {
	select {
	case m.queue <- evt:
	default:
		m.logger.Warn("redis mirror queue full, dropping event",
			zap.String("run_id", evt.RunID),
			zap.String("type", evt.Type))
	}
}

func (m *RedisMirror) appendLoop() {
	defer close(m.done)
	for evt := range m.queue {
		m.append(evt)
	}
}

func (m *RedisMirror) append(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorAppendWait)
	defer cancel()

	key := streamKey(evt.RunID)
	pipe := m.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: mirrorStreamMax,
		Approx: true,
		Values: map[string]interface{}{
			"seq":     strconv.FormatUint(evt.Seq, 10),
			"payload": string(evt.Marshal()),
		},
	})
	pipe.Expire(ctx, key, mirrorStreamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("redis mirror append failed",
			zap.String("run_id", evt.RunID),
			zap.Error(err))
	}
}

// Replay reads the run's mirrored events with Seq > since, oldest first.
func (m *RedisMirror) Replay(ctx context.Context, runID string, since uint64) ([]Event, error) {
	entries, err := m.client.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read run stream: %w", err)
	}
	out := make([]Event, 0, len(entries))
	for _, entry := range entries {
		payload, ok := entry.Values["payload"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			m.logger.Warn("skipping malformed mirrored event",
				zap.String("run_id", runID),
				zap.String("entry_id", entry.ID))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Close stops the append loop after draining queued events.
func (m *RedisMirror) Close() {
	close(m.queue)
	<-m.done
}
