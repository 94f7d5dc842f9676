// Package auth implements single-operator authentication: a bcrypt
// password hash in config, JWT bearer tokens for the API. When no hash is
// configured the middleware is a pass-through and the API runs open.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"trading-signal-engine/config"
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrInvalidToken   = errors.New("invalid or expired token")
)

// Claims is the JWT payload for the operator token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager issues and validates operator tokens.
type Manager struct {
	cfg config.AuthConfig
}

// NewManager wraps the auth configuration.
func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Enabled reports whether the API requires authentication.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled()
}

// Login checks the credentials against the configured operator and returns
// a signed access token.
func (m *Manager) Login(username, password string) (string, error) {
	if username != m.cfg.Username {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.cfg.PasswordHash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.AccessTokenDuration)),
			Subject:   username,
		},
	})
	signed, err := token.SignedString([]byte(m.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token, returning the claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(m.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for AUTH_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
