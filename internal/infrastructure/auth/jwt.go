// Package auth issues and validates the operator tokens that guard the API.
package auth

import (
	"errors"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role limits what an operator token may do.
type Role string

const (
	// RoleViewer may read runs, alerts, queues and stats.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally trigger, cancel, requeue, purge, acknowledge and reset.
	RoleOperator Role = "operator"
)

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	return r == RoleViewer || r == RoleOperator
}

// Allows reports whether the role includes required.
func (r Role) Allows(required Role) bool {
	if r == RoleOperator {
		return true
	}
	return r == required
}

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrInvalidRole      = errors.New("invalid role in claims")
)

// Claims are the custom claims of an operator token
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Token is a signed token and its expiry
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

// JWTService signs and validates HS256 operator tokens
type JWTService struct {
	secret             []byte
	accessExpiration   time.Duration
	defaultOperatorTTL time.Duration
	issuer             string
	now                func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:             []byte(cfg.Secret),
		accessExpiration:   cfg.AccessTokenExpiration,
		defaultOperatorTTL: cfg.OperatorTokenExpiration,
		issuer:             cfg.Issuer,
		now:                time.Now,
	}
}

// GenerateToken signs a token for subject. A zero ttl uses the operator token expiration.
func (s *JWTService) GenerateToken(subject string, role Role, ttl time.Duration) (*Token, error) {
	if subject == "" {
		return nil, ErrMissingSubject
	}
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}
	if ttl <= 0 {
		ttl = s.defaultOperatorTTL
	}
	if ttl <= 0 {
		ttl = s.accessExpiration
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}

// ValidateToken validates a token and returns its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if !claims.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	return claims, nil
}

// GetExpiresAtTime returns the token's expiration time
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}
