// Package app wires configuration into the components shared by the
// server and the command line tools.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/recaption/internal/caption"
	"github.com/timmy/recaption/internal/config"
	"github.com/timmy/recaption/internal/feedback"
	"github.com/timmy/recaption/internal/finetune"
	"github.com/timmy/recaption/internal/imagesource"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/model"
	"github.com/timmy/recaption/internal/repository"
	"github.com/timmy/recaption/internal/storage"
	"gorm.io/gorm"
)

// NewRuntime creates the model runtime client.
func NewRuntime(cfg *config.Config) *model.Client {
	return model.NewClient(&model.ClientConfig{
		BaseURL: cfg.Model.RuntimeURL,
		APIKey:  cfg.Model.APIKey,
		Timeout: cfg.Model.Timeout,
	})
}

// NewLoader creates the image loader.
func NewLoader(cfg *config.Config) *imagesource.Loader {
	return imagesource.NewLoader(&imagesource.LoaderConfig{
		MaxSide:      cfg.Caption.MaxImageSide,
		FetchTimeout: cfg.Caption.FetchTimeout,
	})
}

// NewCaptionService creates the caption service and loads its model.
func NewCaptionService(ctx context.Context, cfg *config.Config, runtime model.Runtime, loader *imagesource.Loader) (*caption.Service, error) {
	return caption.NewService(ctx, runtime, loader, &caption.Config{
		CheckpointDir: cfg.Model.CheckpointDir,
		Baseline:      cfg.Model.Baseline,
		DefaultPrompt: cfg.Caption.DefaultPrompt,
	})
}

// NewFeedbackStore creates the feedback store, with the S3 mirror when it
// is enabled.
func NewFeedbackStore(ctx context.Context, cfg *config.Config) (*feedback.Store, error) {
	uploads, err := storage.NewLocalStorage(cfg.Feedback.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare uploads dir: %w", err)
	}

	storeCfg := &feedback.StoreConfig{
		TablePath: cfg.Feedback.TablePath,
		Uploads:   uploads,
	}
	if cfg.Mirror.Enabled {
		mirror, err := storage.NewMirror(ctx, &storage.S3Config{
			Type:      storage.StorageType(cfg.Mirror.Type),
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			UseSSL:    cfg.Mirror.UseSSL,
			Bucket:    cfg.Mirror.Bucket,
			Region:    cfg.Mirror.Region,
			Prefix:    cfg.Mirror.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upload mirror: %w", err)
		}
		storeCfg.Mirror = mirror
		logger.CtxInfo(ctx, "Upload mirror enabled: bucket=%s", cfg.Mirror.Bucket)
	}
	return feedback.NewStore(storeCfg), nil
}

// OpenRunHistory opens the run-history database.
func OpenRunHistory(cfg *config.Config) (*gorm.DB, *repository.FineTuneRunRepository, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewFineTuneRunRepository(db), nil
}

// NewJob creates the fine-tune job. recorder may be nil.
func NewJob(cfg *config.Config, runtime model.Runtime, store *feedback.Store, loader *imagesource.Loader, recorder finetune.RunRecorder) *finetune.Job {
	return finetune.NewJob(runtime, store, loader, &finetune.JobConfig{
		Baseline:      cfg.Model.Baseline,
		CheckpointDir: cfg.Model.CheckpointDir,
		Base:          finetune.Base(cfg.FineTune.Base),
		LearningRate:  cfg.FineTune.LearningRate,
		MaxLength:     cfg.FineTune.MaxLength,
		Recorder:      recorder,
	})
}

// CloseDB closes the database behind db, if any.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
