package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graphvault/graphvault/internal/authflow"
	"github.com/graphvault/graphvault/internal/config"
	"github.com/graphvault/graphvault/internal/errors"
	"github.com/graphvault/graphvault/internal/logging"
	"github.com/graphvault/graphvault/internal/metrics"
	"github.com/graphvault/graphvault/internal/store"
	"github.com/graphvault/graphvault/internal/token"
)

// DefaultUserID is the identity used when a request does not name one. The
// service fronts a single-operator assistant; multi-user callers pass an
// explicit user parameter.
const DefaultUserID = "default"

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	config      config.ServerConfig
	apiConfig   config.APIConfig
	manager     *token.Manager
	flow        *authflow.Flow
	store       store.Store
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, manager *token.Manager, flow *authflow.Flow, st store.Store, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1000
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 100
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst)

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		manager:     manager,
		flow:        flow,
		store:       st,
		metrics:     m,
		logger:      logger,
		rateLimiter: rateLimiter,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start).Seconds()
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration,
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/healthz", s.handleHealth)

	// Browser-facing OAuth endpoints. These are hit by the operator's
	// browser and by the identity provider's redirect, so they cannot carry
	// an API key; the anti-forgery state protects the callback.
	s.router.GET("/auth/login", s.handleLogin)
	s.router.GET("/auth/callback", s.handleCallback)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)

	// Service endpoints - require authentication
	authGroup := s.router.Group("")
	authGroup.Use(authMiddleware)
	{
		authGroup.GET("/auth/status", s.handleStatus)
		authGroup.GET("/auth/token", s.handleToken)
		authGroup.POST("/auth/revoke", s.handleRevoke)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the store
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("shutting down HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				errs <- &errors.ErrServerShutdown{Err: err}
			}
		}()
	}

	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		if err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.store.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"credentials": stats.CredentialCount,
	})
}

// handleLogin redirects the browser to the identity provider's consent page.
func (s *Server) handleLogin(c *gin.Context) {
	userID := c.DefaultQuery("user", DefaultUserID)

	redirectURL := s.flow.Start(c.Request.Context(), userID)
	c.Redirect(http.StatusFound, redirectURL)
}

// outcomeStatusCodes maps flow outcomes to HTTP status codes.
var outcomeStatusCodes = map[authflow.Status]int{
	authflow.StatusSuccess:        http.StatusOK,
	authflow.StatusProviderError:  http.StatusBadGateway,
	authflow.StatusStateMismatch:  http.StatusForbidden,
	authflow.StatusMissingCode:    http.StatusBadRequest,
	authflow.StatusExchangeFailed: http.StatusBadGateway,
	authflow.StatusStorageFailed:  http.StatusInternalServerError,
}

// handleCallback completes the authorization dance. The provider redirects
// the operator's browser here with either a code or an error.
func (s *Server) handleCallback(c *gin.Context) {
	outcome := s.flow.HandleCallback(
		c.Request.Context(),
		c.Query("code"),
		c.Query("error"),
		c.Query("error_description"),
		c.Query("state"),
	)

	code, ok := outcomeStatusCodes[outcome.Status]
	if !ok {
		code = http.StatusInternalServerError
	}
	c.JSON(code, outcome)
}

// handleStatus reports whether a credential exists for the user. It never
// returns token material.
func (s *Server) handleStatus(c *gin.Context) {
	userID := c.DefaultQuery("user", DefaultUserID)

	has, err := s.manager.HasToken(c.Request.Context(), userID)
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "status lookup failed",
			"user_id", userID,
			"error", err.Error(),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "has_token": has})
}

// handleToken hands a valid bearer token to an authenticated internal
// caller. This is the one endpoint that returns token material.
func (s *Server) handleToken(c *gin.Context) {
	userID := c.DefaultQuery("user", DefaultUserID)

	access, err := s.manager.GetValidAccessToken(c.Request.Context(), userID)
	if err != nil {
		s.respondTokenError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": access, "token_type": "Bearer"})
}

func (s *Server) respondTokenError(c *gin.Context, userID string, err error) {
	ctx := c.Request.Context()

	var reauth *errors.ErrReauthRequired
	if stderrors.As(err, &reauth) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":  "reauth_required",
			"reason": reauth.Reason,
		})
		return
	}

	var failed *errors.ErrRefreshFailed
	if stderrors.As(err, &failed) {
		s.logger.WarnWithContext(ctx, "token refresh failed", "user_id", userID, "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh_failed"})
		return
	}

	s.logger.ErrorWithContext(ctx, "token acquisition failed", "user_id", userID, "error", err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// RevokeRequest names the user whose credential should be deleted.
type RevokeRequest struct {
	UserID string `json:"user_id"`
}

// handleRevoke deletes the stored credential for a user.
func (s *Server) handleRevoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	ok := s.manager.Revoke(c.Request.Context(), req.UserID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}

	s.logger.InfoWithContext(c.Request.Context(), "credential revoked",
		"user_id", req.UserID,
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
