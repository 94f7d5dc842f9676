// Package api exposes the engine over HTTP: signal generation, backtest
// runs and tearsheet retrieval. Auth is optional; without a configured
// operator password the server runs open for local use.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trading-signal-engine/config"
	"trading-signal-engine/internal/auth"
	"trading-signal-engine/internal/database"
	"trading-signal-engine/internal/market"
	"trading-signal-engine/internal/signal"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter allows limit requests per key per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether another request fits in the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// SignalSource generates signals on demand.
type SignalSource interface {
	Generate(ctx context.Context, symbol string) (*signal.Signal, error)
	GenerateMany(ctx context.Context, symbols []string, workers int) []signal.Outcome
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         config.Config
	logger      zerolog.Logger
	generator   SignalSource
	provider    market.Provider
	repo        *database.Repository // nil when persistence is disabled
	authManager *auth.Manager
	rateLimiter *RateLimiter
	runs        *runStore
}

// NewServer wires the routes. repo may be nil.
func NewServer(cfg config.Config, generator SignalSource, provider market.Provider, repo *database.Repository, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.ServerConfig.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.ServerConfig.AllowedOrigins}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		cfg:         cfg,
		logger:      logger.With().Str("component", "api").Logger(),
		generator:   generator,
		provider:    provider,
		repo:        repo,
		authManager: auth.NewManager(cfg.AuthConfig),
		rateLimiter: NewRateLimiter(cfg.ServerConfig.RateLimitPerMin, time.Minute),
		runs:        newRunStore(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/v1/auth/login", s.handleLogin)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.rateLimitMiddleware(), auth.Middleware(s.authManager))
	{
		v1.POST("/signals/:symbol", s.handleGenerateSignal)
		v1.POST("/signals/scan", s.handleScan)
		v1.GET("/signals", s.handleListSignals)
		v1.GET("/indicators/:symbol", s.handleIndicators)

		v1.POST("/backtests", s.handleStartBacktest)
		v1.GET("/backtests", s.handleListBacktests)
		v1.GET("/backtests/:id", s.handleGetBacktest)
		v1.GET("/backtests/:id/tearsheet", s.handleGetTearsheet)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.ServerConfig.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.authManager.Enabled()).Msg("starting http server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	if s.repo != nil {
		status["persistence"] = "enabled"
	} else {
		status["persistence"] = "disabled"
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.authManager.Enabled() {
		c.JSON(http.StatusOK, gin.H{"token": "", "auth": "disabled"})
		return
	}

	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	token, err := s.authManager.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
