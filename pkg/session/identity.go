// Package session holds what the agent knows about the person driving it: the
// identity parsed from the backend session token and the guardian credential
// files kept encrypted on disk between sessions.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"guardian_voting/pkg/config"
)

const tokenIssuer = "guardian_voting"

// Role names as they appear in session token claims
const (
	RoleVoter    = "voter"
	RoleGuardian = "guardian"
	RoleAdmin    = "admin"
)

// Error variables for consistent error handling
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("expired session token")
)

// Identity is the authenticated subject of a session
type Identity struct {
	Email     string
	Name      string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the identity carries a role, ignoring case
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsVoter reports whether the identity may vote in listed elections
func (i *Identity) IsVoter() bool { return i.HasRole(RoleVoter) }

// IsGuardian reports whether the identity may submit decryption credentials
func (i *Identity) IsGuardian() bool { return i.HasRole(RoleGuardian) }

// IsAdmin reports whether the identity may administer elections
func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

type sessionClaims struct {
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Manager parses and validates session tokens
type Manager struct {
	secret []byte
	expiry time.Duration
	logger *zap.Logger
}

// NewManager creates a session manager from configuration
func NewManager(cfg *config.SessionConfig, logger *zap.Logger) (*Manager, error) {
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("session token secret cannot be empty")
	}
	return &Manager{
		secret: []byte(cfg.TokenSecret),
		expiry: cfg.TokenExpiry,
		logger: logger,
	}, nil
}

// ParseToken validates a session token and extracts the identity
func (m *Manager) ParseToken(tokenString string) (*Identity, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}

	identity := &Identity{
		Email: claims.Email,
		Name:  claims.Name,
		Roles: claims.Roles,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// IssueToken signs a session token for an identity. Production tokens come
// from the backend; this covers development and tests.
func (m *Manager) IssueToken(email, name string, roles []string) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		Email: email,
		Name:  name,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
