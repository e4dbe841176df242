package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/recaption/internal/api"
	"github.com/timmy/recaption/internal/app"
	"github.com/timmy/recaption/internal/config"
	"github.com/timmy/recaption/internal/logger"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "recaption-api",
		Short: "Serve image descriptions, collect feedback and fine-tune",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Support CONFIG_PATH environment variable for production deployments
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")

	if err := rootCmd.Execute(); err != nil {
		logger.GetDefault().WithError(err).Fatal("Startup error")
	}
}

func run(configPath string) error {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := appLogger.WithContext(context.Background())

	db, runs, err := app.OpenRunHistory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer app.CloseDB(db)

	store, err := app.NewFeedbackStore(ctx, cfg)
	if err != nil {
		return err
	}

	runtime := app.NewRuntime(cfg)
	loader := app.NewLoader(cfg)

	captionService, err := app.NewCaptionService(ctx, cfg, runtime, loader)
	if err != nil {
		return err
	}
	job := app.NewJob(cfg, runtime, store, loader, runs)

	router := api.SetupRouter(&api.Services{
		Caption:  captionService,
		Feedback: store,
		FineTune: job,
		Runs:     runs,
	}, &cfg.Server, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":       cfg.Server.Port,
			"mode":       cfg.Server.Mode,
			"checkpoint": captionService.Checkpoint(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	appLogger.Info("Server exited")
	return nil
}
