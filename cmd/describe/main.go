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

const defaultImage = "profile_picture.jpeg"

func main() {
	var (
		configPath string
		prompt     string
	)

	rootCmd := &cobra.Command{
		Use:   "describe [image_source]",
		Short: "Describe an image from a local path or URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := defaultImage
			if len(args) == 1 {
				source = args[0]
			}
			return run(cmd.Context(), configPath, source, prompt)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&prompt, "prompt", "", "Conditioning prompt (defaults to caption.default_prompt)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, source, prompt string) error {
	// Logs go to stderr so stdout carries only the description.
	envCfg := logger.LoadFromEnv()
	envCfg.Output = os.Stderr
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx = logger.SetComponent(appLogger.WithContext(ctx), "describe")

	svc, err := app.NewCaptionService(ctx, cfg, app.NewRuntime(cfg), app.NewLoader(cfg))
	if err != nil {
		return err
	}

	description, err := svc.Describe(ctx, source, prompt)
	if err != nil {
		return err
	}
	fmt.Printf("Generated Description: %s\n", description)
	return nil
}
