package auth

import (
	"net/http"
	"strings"
)

// Middleware provides HTTP authentication
type Middleware struct {
	keys       *KeyStore
	jwtManager *JWTManager
	skipAuth   bool // For development/testing
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(keys *KeyStore, jwtManager *JWTManager, skipAuth bool) *Middleware {
	return &Middleware{
		keys:       keys,
		jwtManager: jwtManager,
		skipAuth:   skipAuth,
	}
}

// devUserContext is the identity injected when skip_auth is enabled.
func devUserContext() *UserContext {
	return &UserContext{
		UserID:    "dev",
		Email:     "dev@propensity.local",
		Role:      RoleAdmin,
		TokenType: "none",
	}
}

// HTTP wraps a handler with authentication. The server banner stays public;
// everything else requires a JWT bearer token or a configured API key.
func (m *Middleware) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if configured (for development)
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), devUserContext())))
			return
		}

		if r.URL.Path == "/server-check" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Try API key header
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				userCtx, err := m.keys.Validate(apiKey)
				if err != nil {
					http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
				return
			}

			// For SSE/WebSocket endpoints, check query parameters.
			// Browser's EventSource API cannot send custom headers.
			if strings.Contains(r.URL.Path, "/stream/") {
				if qAPIKey := r.URL.Query().Get("api_key"); qAPIKey != "" {
					userCtx, err := m.keys.Validate(qAPIKey)
					if err != nil {
						http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
						return
					}
					next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
					return
				}
			}

			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
			return
		}

		userCtx, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
	})
}
