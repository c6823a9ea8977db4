package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinix/clinix/internal/classifier"
	"github.com/clinix/clinix/internal/config"
	"github.com/clinix/clinix/internal/domain/analytics"
	"github.com/clinix/clinix/internal/domain/history"
	"github.com/clinix/clinix/internal/domain/notify"
	"github.com/clinix/clinix/internal/domain/queue"
	"github.com/clinix/clinix/internal/domain/triage"
	"github.com/clinix/clinix/internal/platform/auth"
	"github.com/clinix/clinix/internal/platform/middleware"
	"github.com/clinix/clinix/internal/platform/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinix-server",
		Short: "Point-of-care triage assistant API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the durable storage schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Create the storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to load config")
			}
			if cfg.DatabaseURL == "" {
				logger.Fatal().Msg("DATABASE_URL is required for migrations")
			}

			ctx := context.Background()
			pool, err := storage.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect to database")
			}
			defer pool.Close()

			if err := storage.NewPGStore(pool).EnsureSchema(ctx); err != nil {
				logger.Fatal().Err(err).Msg("migration failed")
			}
			logger.Info().Msg("storage schema up to date")
			return nil
		},
	}
	cmd.AddCommand(upCmd)
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Durable storage: Postgres when configured, in-memory otherwise.
	ctx := context.Background()
	var kv storage.Store
	if cfg.DatabaseURL != "" {
		pool, err := storage.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		kv = storage.NewPGStore(pool)
		logger.Info().Msg("connected to database")
	} else {
		kv = storage.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory storage")
	}

	// Classifier backend: the model API when a key is present, otherwise the
	// deterministic development classifier.
	var clf interface {
		classifier.Classifier
		analytics.Generator
	}
	if cfg.GeminiAPIKey != "" {
		clf = classifier.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		logger.Info().Str("model", cfg.GeminiModel).Msg("using model API classifier")
	} else {
		clf = classifier.NewStatic()
		logger.Warn().Msg("GEMINI_API_KEY not set, using deterministic classifier")
	}

	settle := time.Duration(cfg.QueueSettleMS) * time.Millisecond
	classifierTimeout := time.Duration(cfg.ClassifierTimeout) * time.Second

	sessions := triage.NewSessionManager([]byte(cfg.JWTSecret), func() *triage.Orchestrator {
		notes := notify.New()
		return triage.New(triage.Deps{
			Classifier:        clf,
			Queue:             queue.New(kv, notes, settle, logger),
			History:           history.New(kv, logger),
			Notifications:     notes,
			Logger:            logger,
			ClassifierTimeout: classifierTimeout,
		})
	})

	analyticsSvc := analytics.NewService(clf, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API groups: session creation is open, everything else carries a token.
	public := e.Group("/api/v1")
	api := e.Group("/api/v1", auth.SessionMiddleware([]byte(cfg.JWTSecret)))

	triage.NewHandler(sessions).RegisterRoutes(public, api)
	analytics.NewHandler(analyticsSvc).RegisterRoutes(api)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
