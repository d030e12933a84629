package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenExpiry = 30 * time.Minute

// JWTManager handles JWT token operations
type JWTManager struct {
	signingKey []byte
	expiry     time.Duration
	issuer     string
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(signingKey string, expiry time.Duration) *JWTManager {
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}
	return &JWTManager{
		signingKey: []byte(signingKey),
		expiry:     expiry,
		issuer:     "propensity-engine",
	}
}

// CustomClaims represents the custom JWT claims
type CustomClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// GenerateToken creates a signed access token for the given identity
func (j *JWTManager) GenerateToken(userID, email, role string) (string, error) {
	now := time.Now()
	if role == "" {
		role = RoleUser
	}

	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.signingKey)
}

// ValidateToken validates and parses a JWT access token
func (j *JWTManager) ValidateToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Issuer != j.issuer {
		return nil, fmt.Errorf("invalid token issuer")
	}

	return &UserContext{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		IsAPIKey:  false,
		TokenType: "jwt",
	}, nil
}

// hashToken creates a SHA256 hash of a token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ExtractBearerToken extracts the token from Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[7:], nil
}
