// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New builds every dependency from
// the config and hands each layer only what it needs.
//
//	config → store (sqlite | postgres) → services → handlers → routes
//	       → upstream clients (classifier, recommender)
//	       → image store (disk | s3)
//
// Start owns the lifecycle. On SIGINT/SIGTERM it stops accepting requests,
// drains in-flight ones, flushes pending history appends, and only then
// closes the database.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/plantdoc/internal/auth"
	"github.com/sakif/plantdoc/internal/config"
	"github.com/sakif/plantdoc/internal/handler"
	"github.com/sakif/plantdoc/internal/imaging"
	"github.com/sakif/plantdoc/internal/middleware"
	"github.com/sakif/plantdoc/internal/repository"
	"github.com/sakif/plantdoc/internal/repository/postgres"
	sqliteRepo "github.com/sakif/plantdoc/internal/repository/sqlite"
	"github.com/sakif/plantdoc/internal/service"
	"github.com/sakif/plantdoc/internal/storage"
	"github.com/sakif/plantdoc/internal/upstream"
)

// shutdownTimeout bounds both the HTTP drain and the history flush.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store and the history recorder. Both are closed in
// Start after the HTTP server has stopped.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	store    repository.Store
	recorder *service.HistoryRecorder
}

// New wires the whole application from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	images, err := openImageStore(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		recorder: service.NewHistoryRecorder(store, cfg.HistoryQueueSize, logger),
	}

	if err := s.setupRoutes(ctx, images); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	s.recorder.Start()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	if cfg.UsePostgres() {
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		logger.Info("using postgres store")
		return db, nil
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	logger.Info("using sqlite store", slog.String("path", cfg.DBPath))
	return db, nil
}

func openImageStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		st, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 image store: %w", err)
		}
		return st, nil
	default:
		st, err := storage.NewDisk(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("opening disk image store: %w", err)
		}
		return st, nil
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
// GET    /                 → health
// POST   /register         → create account
// POST   /login            → token (or access/refresh pair)
// POST   /refresh          → new access token (pair mode only)
// POST   /analyze          → diagnosis (auth)
// GET    /history          → paginated history (auth)
// GET    /uploads/{name}   → stored images
//
// Middleware order: RequestID → RealIP → Logger → Recoverer → CORS.
// Recoverer sits inside Logger so a recovered panic is logged as a 500.
func (s *Server) setupRoutes(ctx context.Context, images storage.Store) error {
	cfg := s.config

	accessTTL := cfg.TokenTTL
	if cfg.TokenPairs() {
		accessTTL = cfg.AccessTokenTTL
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, accessTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	creds := upstream.Credentials{
		TokenURL:     cfg.UpstreamTokenURL,
		ClientID:     cfg.UpstreamClientID,
		ClientSecret: cfg.UpstreamClientSecret,
		Scopes:       cfg.UpstreamScopes,
		APIToken:     cfg.UpstreamAPIToken,
	}
	classifier := upstream.NewClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout,
		upstream.NewHTTPClient(ctx, creds), s.logger)
	recommender := upstream.NewRecommender(cfg.RecommenderURL, cfg.RecommenderTimeout,
		upstream.NewHTTPClient(ctx, creds), s.logger)

	// A nil *imaging.Normalizer stored in the interface would not compare
	// equal to nil, so only assign when enabled.
	var normalizer service.Normalizer
	if cfg.NormalizeImages {
		normalizer = imaging.NewNormalizer(imaging.Options{
			MaxDimension:   cfg.MaxImageDimension,
			ThumbnailSize:  cfg.ThumbnailSize,
			Quality:        cfg.JPEGQuality,
			MaxInputPixels: cfg.MaxInputPixels,
		})
	}

	authService := service.NewAuthService(s.store, tokens, passwords, cfg.TokenPairs(), s.logger)
	diagnosisService := service.NewDiagnosisService(s.store, classifier, recommender,
		normalizer, images, s.recorder, s.logger)
	historyService := service.NewHistoryService(s.store, s.store, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	analyzeHandler := handler.NewAnalyzeHandler(diagnosisService, cfg.MaxUploadBytes, s.logger)
	historyHandler := handler.NewHistoryHandler(historyService, s.logger)
	uploadsHandler := handler.NewUploadsHandler(images, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Get("/", handler.HandleHealth)

	s.router.Post("/register", authHandler.HandleRegister)
	s.router.Post("/login", authHandler.HandleLogin)
	if cfg.TokenPairs() {
		s.router.Post("/refresh", authHandler.HandleRefresh)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Post("/analyze", analyzeHandler.HandleAnalyze)
		r.Get("/history", historyHandler.HandleHistory)
	})

	s.router.Get("/uploads/{name}", uploadsHandler.HandleGet)

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down in order:
// HTTP server, history recorder, store.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Covers the classifier and recommender timeouts plus upload time.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("authMode", s.config.AuthMode),
			slog.String("storage", s.config.StorageBackend),
			slog.String("classifier", s.config.ClassifierURL),
			slog.String("recommender", s.config.RecommenderURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		} else {
			s.logger.Info("http server stopped")
		}
	}

	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close flushes pending history appends and closes the store. Start calls
// it; tests that never Start call it directly.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.recorder.Close(ctx); err != nil {
		s.logger.Error("history recorder did not drain", slog.String("error", err.Error()))
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
