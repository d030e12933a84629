// Package session stores conversations in Redis with a local
// write-through cache. It backs the conversation endpoints and the
// append-only message log the analysis runner writes to.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalworks/propensity/internal/circuitbreaker"
	"github.com/signalworks/propensity/internal/metrics"
)

const (
	conversationKeyPrefix = "conversation:"
	conversationIndexKey  = "conversations:index"

	// Sliding retention window; every save refreshes it.
	conversationTTL = 7 * 24 * time.Hour

	// Oldest messages are dropped beyond this per-conversation cap.
	maxMessages = 100
)

// Manager handles conversation storage with a Redis backend
type Manager struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	ttl         time.Duration
	mu          sync.RWMutex
	localCache  map[string]*Conversation // Local cache for read performance
	cacheAccess map[string]time.Time     // Track last access time for LRU
	maxCached   int

	// AppendMessage is a read-modify-write on the stored JSON blob;
	// serialize it so concurrent runs on one conversation cannot drop
	// each other's messages.
	appendMu sync.Mutex
}

// NewManager creates a new conversation manager
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         conversationTTL,
		localCache:  make(map[string]*Conversation),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}, nil
}

// CreateConversation creates a new conversation for the given email
func (m *Manager) CreateConversation(ctx context.Context, email string) (*Conversation, error) {
	return m.createConversation(ctx, uuid.New().String(), email)
}

// CreateConversationWithID creates a conversation with a caller-supplied ID.
// If the ID is already taken by a different email a fresh ID is generated
// instead; the same email gets the existing conversation back.
func (m *Manager) CreateConversationWithID(ctx context.Context, conversationID, email string) (*Conversation, error) {
	existing, _ := m.GetConversation(ctx, conversationID)
	if existing != nil {
		if existing.Email != email {
			m.logger.Warn("Conversation ID already owned by another email, generating new ID",
				zap.String("requested_conversation_id", conversationID),
				zap.String("requesting_email", email),
			)
			return m.createConversation(ctx, uuid.New().String(), email)
		}
		return existing, nil
	}

	return m.createConversation(ctx, conversationID, email)
}

func (m *Manager) createConversation(ctx context.Context, conversationID, email string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        conversationID,
		Email:     email,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}

	if err := m.saveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	if err := m.client.SAdd(ctx, conversationIndexKey, conversationID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[conversationID] = conv
	m.cacheAccess[conversationID] = time.Now()
	m.cleanupLocalCache()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created conversation",
		zap.String("conversation_id", conversationID),
		zap.String("email", email),
	)
	metrics.ConversationsCreated.Inc()

	return conv, nil
}

// GetConversation retrieves a conversation by ID
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	m.mu.RLock()
	if conv, ok := m.localCache[conversationID]; ok {
		m.mu.RUnlock()
		metrics.ConversationCacheHits.Inc()
		m.mu.Lock()
		m.cacheAccess[conversationID] = time.Now()
		m.mu.Unlock()
		return conv, nil
	}
	m.mu.RUnlock()
	metrics.ConversationCacheMisses.Inc()

	key := conversationKey(conversationID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConversation, err)
	}

	m.mu.Lock()
	m.localCache[conversationID] = &conv
	m.cacheAccess[conversationID] = time.Now()
	m.cleanupLocalCache()
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	return &conv, nil
}

// ListConversations returns all indexed conversations, oldest first
func (m *Manager) ListConversations(ctx context.Context) ([]*Conversation, error) {
	ids, err := m.client.SMembers(ctx, conversationIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	conversations := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := m.GetConversation(ctx, id)
		if err != nil {
			// Expired or corrupt entries drop out of the listing
			continue
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt.Before(conversations[j].CreatedAt)
	})
	return conversations, nil
}

// AppendMessage appends one message to a conversation's history. Role is
// "user" or "assistant".
func (m *Manager) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	m.appendMu.Lock()
	defer m.appendMu.Unlock()

	conv, err := m.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	msg := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	// Copy before mutating: cached conversations are shared with readers.
	updated := *conv
	updated.Messages = append(append([]Message(nil), conv.Messages...), msg)
	if len(updated.Messages) > maxMessages {
		updated.Messages = updated.Messages[len(updated.Messages)-maxMessages:]
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := m.saveConversation(ctx, &updated); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	m.mu.Lock()
	m.localCache[conversationID] = &updated
	m.cacheAccess[conversationID] = time.Now()
	m.mu.Unlock()

	metrics.MessagesAppended.WithLabelValues(role).Inc()
	return nil
}

// DeleteConversation removes a conversation and its index entry
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := m.client.Del(ctx, conversationKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if err := m.client.SRem(ctx, conversationIndexKey, conversationID).Err(); err != nil {
		return fmt.Errorf("failed to unindex conversation: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, conversationID)
	delete(m.cacheAccess, conversationID)
	metrics.ConversationCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted conversation", zap.String("conversation_id", conversationID))
	return nil
}

// Private methods

func conversationKey(conversationID string) string {
	return conversationKeyPrefix + conversationID
}

func (m *Manager) saveConversation(ctx context.Context, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return m.client.Set(ctx, conversationKey(conv.ID), data, m.ttl).Err()
}

// cleanupLocalCache evicts the least recently used half when the cache
// outgrows maxCached. Callers must hold m.mu.
func (m *Manager) cleanupLocalCache() {
	if len(m.localCache) <= m.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}

	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		accessTime, exists := m.cacheAccess[id]
		if !exists {
			// Untracked entries count as very old
			accessTime = time.Time{}
		}
		entries = append(entries, accessEntry{id: id, time: accessTime})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].time.Before(entries[j].time)
	})

	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.ConversationCacheEvictions.Inc()
	}
}

// Close closes the conversation manager
func (m *Manager) Close() error {
	return m.client.Close()
}

// RedisWrapper returns the underlying Redis circuit breaker wrapper for health checks
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}
