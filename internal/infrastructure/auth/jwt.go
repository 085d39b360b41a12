// Package auth guards the administrative endpoints. The public read API is
// unauthenticated; only cache-management operations require a token.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chainmirror/backend/internal/infrastructure/config"
)

// Common errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrNotAdmin      = errors.New("token lacks admin role")
)

// AdminRole is the role claim required by the admin endpoints.
const AdminRole = "admin"

// Claims represents the custom JWT claims for admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenService issues and validates admin tokens.
type AdminTokenService struct {
	secret []byte
	issuer string
}

// NewAdminTokenService creates a service from the admin configuration.
func NewAdminTokenService(cfg config.AdminConfig) *AdminTokenService {
	return &AdminTokenService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
	}
}

// GenerateToken issues an admin token for subject, valid for ttl.
func (s *AdminTokenService) GenerateToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: AdminRole,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken parses and verifies an admin token.
func (s *AdminTokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Role != AdminRole {
		return nil, ErrNotAdmin
	}
	return claims, nil
}
