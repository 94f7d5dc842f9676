package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trading-signal-engine/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewManager(config.AuthConfig{
		Username:            "operator",
		PasswordHash:        hash,
		JWTSecret:           "test-secret",
		AccessTokenDuration: time.Hour,
	})
}

func TestLoginAndValidate(t *testing.T) {
	m := testManager(t)

	token, err := m.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Username != "operator" {
		t.Errorf("username = %q", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := testManager(t)
	if _, err := m.Login("operator", "wrong"); err != ErrBadCredentials {
		t.Errorf("bad password: err = %v", err)
	}
	if _, err := m.Login("admin", "hunter2"); err != ErrBadCredentials {
		t.Errorf("bad username: err = %v", err)
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	m := testManager(t)
	other := NewManager(config.AuthConfig{
		Username:            "operator",
		PasswordHash:        m.cfg.PasswordHash,
		JWTSecret:           "different-secret",
		AccessTokenDuration: time.Hour,
	})
	token, err := other.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := m.Validate(token); err != ErrInvalidToken {
		t.Errorf("foreign token accepted: err = %v", err)
	}
}

func TestMiddlewareProtectsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testManager(t)

	router := gin.New()
	router.GET("/protected", Middleware(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextKeyUsername)})
	})

	// No header.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d", w.Code)
	}

	// Valid token.
	token, err := m.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, body = %s", w.Code, w.Body)
	}
}

func TestMiddlewareOpenWhenDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(config.AuthConfig{})

	router := gin.New()
	router.GET("/protected", Middleware(m), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if w.Code != http.StatusOK {
		t.Errorf("open mode: status = %d", w.Code)
	}
}
