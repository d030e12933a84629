package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyConfig is one deployment-configured API key. Hash is the bcrypt hash of
// the key; the plaintext never appears in config.
type KeyConfig struct {
	Name   string `yaml:"name" mapstructure:"name"`
	Hash   string `yaml:"hash" mapstructure:"hash"`
	UserID string `yaml:"user_id" mapstructure:"user_id"`
	Email  string `yaml:"email" mapstructure:"email"`
	Role   string `yaml:"role" mapstructure:"role"`
}

// KeyStore validates presented API keys against the configured set. Validated
// keys are cached by SHA256 so the bcrypt comparison runs once per key, not
// once per request.
type KeyStore struct {
	keys   []KeyConfig
	logger *zap.Logger

	mu        sync.RWMutex
	validated map[string]*UserContext
}

// NewKeyStore creates a key store from configured keys
func NewKeyStore(keys []KeyConfig, logger *zap.Logger) *KeyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{
		keys:      keys,
		logger:    logger,
		validated: make(map[string]*UserContext),
	}
}

// Validate checks an API key and returns the user context it maps to
func (s *KeyStore) Validate(apiKey string) (*UserContext, error) {
	if len(apiKey) < 8 {
		return nil, fmt.Errorf("invalid API key format")
	}

	cacheKey := hashToken(apiKey)
	s.mu.RLock()
	cached, ok := s.validated[cacheKey]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	for i := range s.keys {
		k := &s.keys[i]
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(apiKey)) != nil {
			continue
		}

		role := k.Role
		if role == "" {
			role = RoleUser
		}
		userID := k.UserID
		if userID == "" {
			userID = k.Name
		}
		userCtx := &UserContext{
			UserID:    userID,
			Email:     k.Email,
			Role:      role,
			IsAPIKey:  true,
			TokenType: "api_key",
		}

		s.mu.Lock()
		s.validated[cacheKey] = userCtx
		s.mu.Unlock()

		s.logger.Debug("API key validated", zap.String("name", k.Name))
		return userCtx, nil
	}

	return nil, ErrInvalidAPIKey
}

// GenerateAPIKey creates a new random API key and its bcrypt hash for config.
// The plaintext key is shown once; only the hash is stored.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = "pk_" + hex.EncodeToString(b)
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash key: %w", err)
	}
	return key, string(hashed), nil
}
