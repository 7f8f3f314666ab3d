package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/logger"
	"github.com/raaihank/phi-guard/internal/security"
	"github.com/raaihank/phi-guard/internal/service"
	"github.com/raaihank/phi-guard/internal/web"
	"github.com/raaihank/phi-guard/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// Server exposes the sanitize and reidentify API over HTTP
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	service   *service.Service
	tenants   *config.TenantProvider
	limiter   *security.RateLimiter
	trusted   []*net.IPNet
	wsHub     *websocket.Hub
	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a new server instance. hub may be nil when the audit stream is disabled.
func New(cfg *config.Config, log *logger.Logger, svc *service.Service, tenants *config.TenantProvider, hub *websocket.Hub) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		service:   svc,
		tenants:   tenants,
		limiter:   security.NewRateLimiter(cfg.Security.RateLimit),
		wsHub:     hub,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	trusted, err := cfg.Server.TrustedNetworks()
	if err != nil {
		s.logger.Error("Ignoring trusted proxies", zap.Error(err))
	}
	s.trusted = trusted

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.wsHub != nil {
		path := s.config.Audit.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)

		dashboard, err := web.Dashboard(path, Version)
		if err != nil {
			s.logger.Error("Audit dashboard disabled", zap.Error(err))
		} else {
			s.router.HandleFunc("/dashboard", s.wsHub.RequireAuth(dashboard)).Methods(http.MethodGet)
		}
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)
	api.HandleFunc("/sanitize", s.handleSanitize).Methods(http.MethodPost)
	api.HandleFunc("/reidentify", s.handleReidentify).Methods(http.MethodPost)
	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PHI Guard server",
		zap.Int("port", s.config.Server.Port),
		zap.String("store_driver", s.config.Store.Driver),
		zap.String("default_mode", s.config.PHI.Mode),
		zap.Bool("audit_stream", s.wsHub != nil),
	)

	if s.config.Security.RateLimit.Enabled {
		s.limiter.StartCleanupRoutine(ctx, 30*time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PHI Guard server")
	return s.server.Shutdown(ctx)
}
