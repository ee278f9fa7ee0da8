// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects handlers, middleware and
// routes, and owns the resources that must be closed on shutdown (the
// database).
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New creates:
//	  sqlite.DB ─┬─ AuthService ──── AuthHandler
//	             └─ CommentService ─ CommentHandler
//	                     │
//	                 live.Hub ────── live.Handler (websocket feed)
//
// All dependencies are assembled in New, the composition root; nothing else
// in the codebase constructs a service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sakif/blog/internal/auth"
	"github.com/sakif/blog/internal/config"
	"github.com/sakif/blog/internal/handler"
	"github.com/sakif/blog/internal/live"
	"github.com/sakif/blog/internal/middleware"
	sqliteRepo "github.com/sakif/blog/internal/repository/sqlite"
	"github.com/sakif/blog/internal/service"
)

const discoveryTimeout = 10 * time.Second

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
	hub    *live.Hub
}

// New opens the database, builds every service and registers the routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
		hub:    live.NewHub(logger),
	}

	providers, err := s.oauthProviders()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring OAuth: %w", err)
	}

	s.setupRoutes(providers)
	return s, nil
}

// oauthProviders builds the enabled identity providers. Google needs its
// OIDC discovery document, so it is fetched once here.
func (s *Server) oauthProviders() (map[string]handler.OAuthProvider, error) {
	providers := make(map[string]handler.OAuthProvider)

	if gh := s.config.GitHub; gh.Enabled() {
		providers[auth.ProviderGitHub] = auth.NewGitHubProvider(gh.ClientID, gh.ClientSecret, gh.CallbackURL)
	}

	if g := s.config.Google; g.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
		defer cancel()
		google, err := auth.NewGoogleProvider(ctx, g.ClientID, g.ClientSecret, g.CallbackURL)
		if err != nil {
			return nil, err
		}
		providers[auth.ProviderGoogle] = google
	}

	for name := range providers {
		s.logger.Info("oauth provider enabled", slog.String("provider", name))
	}
	return providers, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz                                → liveness + DB ping
//	POST /auth/signup                            → email/password account
//	POST /auth/token?grant_type=...              → password sign-in or refresh
//	POST /auth/logout                            → revoke refresh tokens  [auth]
//	GET  /auth/user                              → current user + profile [auth]
//	GET  /auth/{provider}/login                  → OAuth redirect
//	GET  /auth/{provider}/callback               → OAuth callback
//	GET  /api/posts/{postID}/comments            → list comments
//	POST /api/posts/{postID}/comments            → add a comment          [auth]
//	GET  /api/posts/{postID}/comments/live       → websocket feed
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs before Logger so every log line carries the ID; CORS runs
// before routing so preflight requests never reach a handler.
func (s *Server) setupRoutes(providers map[string]handler.OAuthProvider) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s.router.Get("/healthz", s.handleHealth)

	authService := service.NewAuthService(s.db, s.db, s.db, s.tokens, auth.NewPasswordService(), s.logger)
	authHandler := handler.NewAuthHandler(authService, providers, s.config.SiteURL, s.config.SecureCookies(), s.logger)

	commentService := service.NewCommentService(s.db, s.hub, s.logger)
	commentHandler := handler.NewCommentHandler(
		commentService,
		live.NewHandler(s.hub, s.config.OriginHosts(), s.logger),
		s.logger,
	)

	requireAuth := auth.RequireAuth(s.tokens)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignUp)
		r.Post("/token", authHandler.HandleToken)
		r.With(requireAuth).Post("/logout", authHandler.HandleLogout)
		r.With(requireAuth).Get("/user", authHandler.HandleUser)
		r.Get("/{provider}/login", authHandler.HandleOAuthLogin)
		r.Get("/{provider}/callback", authHandler.HandleOAuthCallback)
	})

	s.router.Route("/api/posts/{postID}/comments", func(r chi.Router) {
		r.With(auth.OptionalAuth(s.tokens)).Get("/", commentHandler.HandleList)
		r.With(requireAuth).Post("/", commentHandler.HandleCreate)
		r.Get("/live", commentHandler.HandleLive)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM and then shuts down gracefully:
//  1. stop accepting new connections
//  2. wait up to 30s for in-flight requests
//  3. close the database (flushes the WAL, releases the file lock)
//
// Only the header read is bounded: live comment feeds hold their connection
// open for as long as a reader keeps the post open.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("site", s.config.SiteURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
