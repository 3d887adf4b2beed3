package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/taxbot/internal/api/handlers"
	"github.com/cloo-solutions/taxbot/internal/config"
	"github.com/cloo-solutions/taxbot/internal/jobs"
	"github.com/cloo-solutions/taxbot/internal/knowledge"
	"github.com/cloo-solutions/taxbot/internal/server"
	"github.com/cloo-solutions/taxbot/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the taxbot chatbot API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if cmd.Flags().Changed("port") {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	a, err := setupApp(ctx, cfg, logger, setupOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	// Build eagerly; requests arriving first trigger the lazy build path.
	go func() {
		result, err := a.index.Build(ctx)
		if err != nil {
			logger.Error("initial corpus build failed", "error", err)
			return
		}
		logger.Info("initial corpus build complete", "chunks", result.ChunkCount, "source", result.Source)
	}()

	watch := cfg.WatchKnowledge && len(cfg.KnowledgePaths) > 0

	// File changes and the refresh interval share one worker so their runs never overlap.
	var refreshWorker *jobs.Worker
	if cfg.RefreshInterval > 0 || watch {
		refreshWorker = jobs.NewWorker(jobs.NewRefreshProcessor(a.index, logger), cfg.RefreshInterval, logger)
		go refreshWorker.Start(ctx)
	}

	if watch {
		watcher, err := knowledge.NewWatcher(cfg.KnowledgePaths, knowledge.DefaultDebounce, logger)
		if err != nil {
			logger.Warn("knowledge watcher disabled", "error", err)
		} else {
			go watcher.Run(ctx, func(context.Context) { refreshWorker.Trigger() })
		}
	}

	router := server.NewRouter(server.RouterConfig{
		ChatbotHandler: handlers.NewChatbotHandler(a.chatbot),
		AdminToken:     cfg.AdminToken,
		MetricsHandler: a.metrics.Handler(),
		Logger:         logger,
	})
	if !cfg.HasAdminToken() {
		logger.Warn("ADMIN_TOKEN not set; debug and process-documents routes are public")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("shutting down...")

	if refreshWorker != nil {
		refreshWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

func initTelemetry(cfg *config.Config, logger *slog.Logger) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
		Logger:           logger,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", "error", err)
		return func() {}
	}
	return shutdown
}
