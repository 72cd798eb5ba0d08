package server

import (
	"errors"
	"net/http"

	"github.com/atherlabs/atherbot/internal/apikey"
	"github.com/atherlabs/atherbot/internal/auth"
	"github.com/atherlabs/atherbot/internal/cache"
	"github.com/atherlabs/atherbot/internal/config"
	"github.com/atherlabs/atherbot/internal/database"
	apierrors "github.com/atherlabs/atherbot/internal/errors"
	"github.com/atherlabs/atherbot/internal/gateway"
	"github.com/atherlabs/atherbot/internal/logging"
	"github.com/atherlabs/atherbot/internal/middleware"
	"github.com/atherlabs/atherbot/internal/monitoring"
	"github.com/atherlabs/atherbot/internal/playground"
	"github.com/atherlabs/atherbot/internal/requestlog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               database.PgxPool
	authService      *auth.Service
	keyService       *apikey.Service
	logService       *requestlog.Service
	gatewayService   *gateway.Service
	generateBackend  playground.Responder
	chatBackend      playground.Responder
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance. redis may be nil when the
// cache is disabled.
func NewAPIServer(cfg *config.Config, db database.PgxPool, redis *cache.Redis) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	authService := auth.NewService(db, &cfg.JWT)
	keyService := apikey.NewService(db, apikey.NewGenerator(cfg.APIKey.Prefix), redis, &cfg.APIKey, cfg.Redis.KeyCacheTTL)
	logService := requestlog.NewService(db, &cfg.Usage)
	gatewayService := gateway.NewService(keyService, logService)

	jwtAuthenticator := middleware.NewJWTAuthenticator(&cfg.JWT)

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		authService:      authService,
		keyService:       keyService,
		logService:       logService,
		gatewayService:   gatewayService,
		generateBackend:  playground.NewSimulated(&cfg.Playground),
		chatBackend:      playground.NewChat(&cfg.Playground),
		jwtAuthenticator: jwtAuthenticator,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// Dashboard API (JWT protected except auth)
	v1 := s.router.Group("/api/v1")
	{
		// Auth routes (public)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", s.handleRegister)
			authGroup.POST("/login", s.handleLogin)
			authGroup.POST("/logout", s.handleLogout)
			authGroup.POST("/refresh", s.handleRefresh)
		}

		// API key management
		keys := v1.Group("/keys")
		keys.Use(s.jwtAuthenticator.JWTAuth())
		{
			keys.GET("", s.handleListKeys)
			keys.POST("", s.handleCreateKey)
			keys.GET("/:id", s.handleGetKey)
			keys.PUT("/:id", s.handleRenameKey)
			keys.DELETE("/:id", s.handleDeleteKey)
			keys.PUT("/:id/active", s.handleSetKeyActive)
		}

		// Usage and request log
		usage := v1.Group("")
		usage.Use(s.jwtAuthenticator.JWTAuth())
		{
			usage.GET("/usage", s.handleGetUsage)
			usage.GET("/requests", s.handleListRequests)
		}
	}

	// Generation gateway (API key protected)
	api := s.router.Group("/v1")
	{
		api.POST("/generate", s.handleGenerate)
		api.POST("/chat", s.handleChat)
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": s.config.Server.Name,
	})
}

// handleRegister handles user registration
func (s *APIServer) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Register(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailAlreadyExists):
			respondError(c, apierrors.NewInvalidRequestError("Email already registered"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// handleLogin handles user login
func (s *APIServer) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(c, apierrors.ErrInvalidCredentialsError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleLogout handles user logout
func (s *APIServer) handleLogout(c *gin.Context) {
	// Stateless JWT: logout is handled client-side by dropping the token
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// handleRefresh handles token refresh
func (s *APIServer) handleRefresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	tokens, err := s.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			respondError(c, apierrors.ErrInvalidCredentialsError)
		case errors.Is(err, auth.ErrTokenExpired):
			respondError(c, apierrors.ErrTokenExpiredError)
		case errors.Is(err, auth.ErrUserNotFound):
			respondError(c, apierrors.ErrUserNotFoundError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// userIDFromContext resolves the authenticated user ID set by the JWT
// middleware, responding with 401 on failure.
func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	userIDStr := middleware.GetUserIDFromContext(c)
	if userIDStr == "" {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return uuid.Nil, false
	}
	return userID, true
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(err, reqIDStr))
}
