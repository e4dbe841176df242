package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timmy/recaption/internal/app"
	"github.com/timmy/recaption/internal/config"
	"github.com/timmy/recaption/internal/logger"
)

func main() {
	var (
		configPath string
		base       string
	)

	rootCmd := &cobra.Command{
		Use:   "finetune",
		Short: "Run one fine-tuning pass over the recorded feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, base)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&base, "base", "", "Start from baseline or current (overrides finetune.base)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, base string) error {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if base != "" {
		cfg.FineTune.Base = base
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	ctx = appLogger.WithContext(ctx)

	db, runs, err := app.OpenRunHistory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer app.CloseDB(db)

	store, err := app.NewFeedbackStore(ctx, cfg)
	if err != nil {
		return err
	}

	job := app.NewJob(cfg, app.NewRuntime(cfg), store, app.NewLoader(cfg), runs)
	stats, err := job.Run(ctx)
	if err != nil {
		appLogger.WithError(err).Error("Fine-tune failed")
		return err
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldRunID:      stats.RunID,
		logger.FieldStatus:     stats.Status,
		"total":                stats.Total,
		"trained":              stats.Trained,
		"skipped":              stats.Skipped,
		logger.FieldLoss:       stats.MeanLoss,
		logger.FieldDurationMs: stats.Duration.Milliseconds(),
	}).Info("Fine-tune finished")
	return nil
}
