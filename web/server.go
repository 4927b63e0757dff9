package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"museum-guide/config"
	"museum-guide/guide"
	"museum-guide/metrics"
	"museum-guide/web/handlers"
	"museum-guide/web/middleware"
	"museum-guide/web/services"
	"museum-guide/web/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	router  *gin.Engine
	service *guide.Service
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
	limiter *middleware.ClientRateLimiter
}

func NewServer(service *guide.Service, logger *zap.Logger, cfg *config.Config, m *metrics.Metrics) (*Server, error) {
	// Set Gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	limiter, err := middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.RateLimitPerMin,
		BurstSize:         cfg.RateLimitBurst,
		MaxClients:        cfg.RateLimitClients,
	}, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestContext(logger))
	router.Use(m.Middleware())
	router.Use(middleware.CORS(cfg.AllowedOrigin))

	server := &Server{
		router:  router,
		service: service,
		logger:  logger,
		config:  cfg,
		metrics: m,
		limiter: limiter,
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	guideHandler := handlers.NewGuideHandler(s.service, services.NewStreamService(s.logger), s.logger)

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api/ai")
	api.GET("/health", guideHandler.Health)

	limited := api.Group("")
	limited.Use(middleware.RateLimitMiddleware(s.limiter))
	limited.Use(middleware.BodyLimit(s.config.MaxBodyBytes))
	limited.POST("/chat", guideHandler.Chat)
	limited.POST("/chat-stream", guideHandler.ChatStream)
	limited.POST("/enrich", guideHandler.Enrich)
	limited.POST("/wish", guideHandler.Wish)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "not found", RequestID: middleware.RequestID(c)})
	})
}

// Handler exposes the engine for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web server failed", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
