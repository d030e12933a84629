package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManagerForTest(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	t.Setenv("REDIS_PASSWORD", "")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	mgr, err := NewManager(mr.Addr(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	return mgr, mr
}

// dropLocalCache forces the next reads through Redis.
func dropLocalCache(m *Manager) {
	m.mu.Lock()
	m.localCache = make(map[string]*Conversation)
	m.cacheAccess = make(map[string]time.Time)
	m.mu.Unlock()
}

// getCounter returns a counter value by metric name; 0 if missing
func getCounter(name string) float64 {
	mfs, _ := prometheus.DefaultGatherer.Gather()
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.Metric {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
			}
		}
	}
	return 0
}

func TestCreateConversationRoundTrip(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	conv, err := mgr.CreateConversation(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "user@example.com", conv.Email)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Empty(t, conv.Messages)

	got, err := mgr.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	listed, err := mgr.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, conv.ID, listed[0].ID)
}

func TestCreateConversationWithIDOwnershipGuard(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	first, err := mgr.CreateConversationWithID(ctx, "conv-1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", first.ID)

	// Same email gets the existing conversation back
	again, err := mgr.CreateConversationWithID(ctx, "conv-1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// A different email cannot take over the ID
	other, err := mgr.CreateConversationWithID(ctx, "conv-1", "bob@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "conv-1", other.ID)
	assert.Equal(t, "bob@example.com", other.Email)
}

func TestGetConversationMissing(t *testing.T) {
	mgr, _ := newManagerForTest(t)

	_, err := mgr.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestAppendMessagePersistsThroughRedis(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	conv, err := mgr.CreateConversation(ctx, "user@example.com")
	require.NoError(t, err)

	require.NoError(t, mgr.AppendMessage(ctx, conv.ID, "user", "Analyze Meta"))
	require.NoError(t, mgr.AppendMessage(ctx, conv.ID, "assistant", "## Propensity Score Analysis: Analyze Meta"))

	// Read back from Redis, not the local cache
	dropLocalCache(mgr)

	got, err := mgr.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Analyze Meta", got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.NotEmpty(t, got.Messages[0].ID)
	assert.False(t, got.Messages[0].Timestamp.IsZero())
}

func TestAppendMessageCapsHistory(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	conv, err := mgr.CreateConversation(ctx, "user@example.com")
	require.NoError(t, err)

	for i := 0; i < maxMessages+3; i++ {
		require.NoError(t, mgr.AppendMessage(ctx, conv.ID, "user", fmt.Sprintf("m%d", i)))
	}

	got, err := mgr.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, maxMessages)
	assert.Equal(t, "m3", got.Messages[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", maxMessages+2), got.Messages[len(got.Messages)-1].Content)
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	mgr, _ := newManagerForTest(t)

	err := mgr.AppendMessage(context.Background(), "missing", "user", "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeleteConversationRemovesIndexEntry(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	keep, err := mgr.CreateConversation(ctx, "keep@example.com")
	require.NoError(t, err)
	drop, err := mgr.CreateConversation(ctx, "drop@example.com")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteConversation(ctx, drop.ID))

	_, err = mgr.GetConversation(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	listed, err := mgr.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, keep.ID, listed[0].ID)
}

func TestConversationExpiresAfterTTL(t *testing.T) {
	mgr, mr := newManagerForTest(t)
	ctx := context.Background()

	conv, err := mgr.CreateConversation(ctx, "user@example.com")
	require.NoError(t, err)

	mr.FastForward(conversationTTL + time.Hour)
	dropLocalCache(mgr)

	_, err = mgr.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestLocalCacheEvictionIncrementsCounter(t *testing.T) {
	mgr, _ := newManagerForTest(t)
	ctx := context.Background()

	mgr.mu.Lock()
	mgr.maxCached = 2
	mgr.mu.Unlock()

	before := getCounter("propensity_conversation_cache_evictions_total")

	for i := 0; i < 4; i++ {
		_, err := mgr.CreateConversation(ctx, fmt.Sprintf("user%d@example.com", i))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	after := getCounter("propensity_conversation_cache_evictions_total")
	assert.Greater(t, after, before)
}
