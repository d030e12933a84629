package auth

import (
	"context"
	"errors"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

var (
	// ErrNoUserContext is returned when a request carries no authenticated user
	ErrNoUserContext = errors.New("missing user context")

	// ErrInvalidAPIKey is returned when a presented key matches no configured key
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserContext represents the authenticated context for a request
type UserContext struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsAPIKey  bool   `json:"is_api_key"`
	TokenType string `json:"token_type"` // jwt, api_key, or none (skip_auth)
}

// WithUserContext returns a context carrying the user.
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, error) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil, ErrNoUserContext
	}
	return userCtx, nil
}
