package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/feedback"
	"github.com/timmy/recaption/internal/imagesource"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/model"
)

var (
	// ErrAlreadyRunning is returned when a pass is started while another
	// one is still in progress.
	ErrAlreadyRunning = errors.New("fine-tune job is already running")
	// ErrEmptyFeedback marks a row whose correction is empty or blank.
	ErrEmptyFeedback = errors.New("feedback text is empty")
)

// Base selects the checkpoint a pass starts from.
type Base string

const (
	// BaseBaseline always restarts from the pretrained checkpoint.
	BaseBaseline Base = "baseline"
	// BaseCurrent continues from whichever checkpoint is preferred now.
	BaseCurrent Base = "current"
)

// RunRecorder persists run history. Implemented by
// repository.FineTuneRunRepository.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.FineTuneRun) error
	Update(ctx context.Context, run *domain.FineTuneRun) error
}

// RunStats summarizes one pass over the feedback table.
type RunStats struct {
	RunID      string           `json:"run_id"`
	Status     domain.RunStatus `json:"status"`
	Checkpoint string           `json:"checkpoint,omitempty"`
	Total      int              `json:"total"`
	Trained    int              `json:"trained"`
	Skipped    int              `json:"skipped"`
	MeanLoss   float64          `json:"mean_loss"`
	Duration   time.Duration    `json:"duration"`
}

// Job fine-tunes the captioning model on recorded user corrections.
type Job struct {
	runtime       model.Runtime
	store         *feedback.Store
	loader        *imagesource.Loader
	recorder      RunRecorder
	baseline      string
	checkpointDir string
	base          Base
	learningRate  float64
	maxLength     int

	running sync.Mutex
}

// JobConfig holds configuration for the fine-tune job.
type JobConfig struct {
	Baseline      string
	CheckpointDir string
	Base          Base
	LearningRate  float64
	MaxLength     int
	// Recorder is optional.
	Recorder RunRecorder
}

// NewJob creates a new fine-tune job.
func NewJob(runtime model.Runtime, store *feedback.Store, loader *imagesource.Loader, cfg *JobConfig) *Job {
	base := cfg.Base
	if base == "" {
		base = BaseBaseline
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = 512
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = 5e-5
	}
	return &Job{
		runtime:       runtime,
		store:         store,
		loader:        loader,
		recorder:      cfg.Recorder,
		baseline:      cfg.Baseline,
		checkpointDir: cfg.CheckpointDir,
		base:          base,
		learningRate:  lr,
		maxLength:     maxLength,
	}
}

// startCheckpoint returns the checkpoint a new pass loads.
func (j *Job) startCheckpoint() string {
	if j.base == BaseCurrent {
		return model.ResolveCheckpoint(j.checkpointDir, j.baseline)
	}
	return j.baseline
}

// Run performs one pass: every row with a non-blank correction and a
// readable image gets exactly one train step, in table order. The model is
// saved to the checkpoint directory afterwards even if nothing trained.
// A missing table makes the pass a no-op.
func (j *Job) Run(ctx context.Context) (*RunStats, error) {
	if !j.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer j.running.Unlock()

	runID := uuid.New().String()
	ctx = logger.SetRunID(ctx, runID)
	ctx = logger.SetComponent(ctx, "finetune")
	start := time.Now()
	stats := &RunStats{RunID: runID}

	records, err := j.store.Records(ctx)
	if errors.Is(err, feedback.ErrTableNotFound) {
		stats.Status = domain.RunStatusSkipped
		stats.Duration = time.Since(start)
		logger.CtxInfo(ctx, "Feedback table not found, nothing to train: path=%s", j.store.TablePath())
		j.record(ctx, &domain.FineTuneRun{ID: runID, Status: domain.RunStatusSkipped}, stats, nil)
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	stats.Total = len(records)

	checkpoint := j.startCheckpoint()
	startedAt := start
	run := &domain.FineTuneRun{
		ID:             runID,
		Status:         domain.RunStatusRunning,
		BaseCheckpoint: checkpoint,
		TotalRows:      len(records),
		StartedAt:      &startedAt,
	}
	if j.recorder != nil {
		if err := j.recorder.Create(ctx, run); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to record fine-tune run")
		}
	}

	err = j.train(ctx, checkpoint, records, stats)
	stats.Duration = time.Since(start)
	if err != nil {
		stats.Status = domain.RunStatusFailed
		j.record(ctx, run, stats, err)
		logger.With(logger.Fields{
			logger.FieldDurationMs: stats.Duration.Milliseconds(),
		}).Error(ctx, "Fine-tune failed: trained=%d, error=%v", stats.Trained, err)
		return stats, err
	}

	stats.Status = domain.RunStatusCompleted
	stats.Checkpoint = j.checkpointDir
	j.record(ctx, run, stats, nil)

	logger.With(logger.Fields{
		logger.FieldDurationMs: stats.Duration.Milliseconds(),
		logger.FieldCount:      stats.Trained,
	}).WithLoss(stats.MeanLoss).Info(ctx, "Fine-tune completed: total=%d, trained=%d, skipped=%d, checkpoint=%s",
		stats.Total, stats.Trained, stats.Skipped, j.checkpointDir)
	return stats, nil
}

func (j *Job) train(ctx context.Context, checkpoint string, records []domain.FeedbackRecord, stats *RunStats) error {
	handle, err := j.runtime.Load(ctx, checkpoint)
	if err != nil {
		return fmt.Errorf("failed to load base model %s: %w", checkpoint, err)
	}
	defer func() {
		if err := j.runtime.Unload(context.WithoutCancel(ctx), handle); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to unload training model")
		}
	}()

	var lossSum float64
	for i, rec := range records {
		dataURL, err := j.prepare(ctx, rec)
		if err != nil {
			stats.Skipped++
			logger.With(logger.Fields{
				"row":   i + 1,
				"image": rec.ImagePath,
			}).Warn(ctx, "Skipping feedback row: %v", err)
			continue
		}

		enc, err := j.runtime.Encode(ctx, handle, dataURL, rec.UserFeedback, j.maxLength)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
		example := &model.TrainExample{
			Image:         dataURL,
			InputIDs:      enc.InputIDs,
			AttentionMask: enc.AttentionMask,
			Labels:        model.MaskPadding(enc.InputIDs, enc.PadTokenID),
		}
		loss, err := j.runtime.TrainStep(ctx, handle, example, j.learningRate)
		if err != nil {
			return fmt.Errorf("failed to train on row %d: %w", i+1, err)
		}

		stats.Trained++
		lossSum += loss
		logger.CtxDebug(ctx, "Train step: row=%d, loss=%.4f", i+1, loss)
	}
	if stats.Trained > 0 {
		stats.MeanLoss = lossSum / float64(stats.Trained)
	}

	return j.save(ctx, handle)
}

// save writes the trained model to the checkpoint directory. A directory
// created by a failed save is removed again so it cannot take precedence
// over the baseline.
func (j *Job) save(ctx context.Context, handle *model.Handle) error {
	_, statErr := os.Stat(j.checkpointDir)
	created := errors.Is(statErr, os.ErrNotExist)
	if err := os.MkdirAll(j.checkpointDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	if err := j.runtime.Save(ctx, handle, j.checkpointDir); err != nil {
		if created {
			if rmErr := os.RemoveAll(j.checkpointDir); rmErr != nil {
				logger.FromContext(ctx).WithError(rmErr).Warn("Failed to remove incomplete checkpoint dir")
			}
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// prepare validates one row and returns its image as a data URL. Image
// paths are always local files.
func (j *Job) prepare(ctx context.Context, rec domain.FeedbackRecord) (string, error) {
	if strings.TrimSpace(rec.UserFeedback) == "" {
		return "", ErrEmptyFeedback
	}
	img, err := imagesource.Open(rec.ImagePath)
	if err != nil {
		return "", err
	}
	return j.loader.DataURL(img)
}

func (j *Job) record(ctx context.Context, run *domain.FineTuneRun, stats *RunStats, runErr error) {
	if j.recorder == nil {
		return
	}
	completed := time.Now()
	run.Status = stats.Status
	run.TotalRows = stats.Total
	run.TrainedRows = stats.Trained
	run.SkippedRows = stats.Skipped
	run.MeanLoss = stats.MeanLoss
	run.CompletedAt = &completed
	if stats.Status == domain.RunStatusCompleted {
		run.OutputCheckpoint = j.checkpointDir
	}
	if runErr != nil {
		run.ErrorLog = runErr.Error()
	}

	save := j.recorder.Update
	if stats.Status == domain.RunStatusSkipped {
		save = j.recorder.Create
	}
	if err := save(context.WithoutCancel(ctx), run); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record fine-tune run")
	}
}
