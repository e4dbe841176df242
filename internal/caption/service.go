package caption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/recaption/internal/imagesource"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/model"
	"github.com/timmy/recaption/internal/prompts"
)

// Service generates image descriptions with one loaded captioning model.
// It is constructed once and shared; Reload swaps in whatever checkpoint
// is preferred at the time of the call.
type Service struct {
	runtime       model.Runtime
	loader        *imagesource.Loader
	checkpointDir string
	baseline      string
	defaultPrompt string

	mu     sync.RWMutex
	handle *model.Handle
}

// Config holds configuration for the caption service.
type Config struct {
	CheckpointDir string // fine-tuned checkpoint, preferred when present
	Baseline      string // pretrained checkpoint used otherwise
	DefaultPrompt string
}

// NewService creates the caption service and loads its model.
func NewService(ctx context.Context, runtime model.Runtime, loader *imagesource.Loader, cfg *Config) (*Service, error) {
	s := &Service{
		runtime:       runtime,
		loader:        loader,
		checkpointDir: cfg.CheckpointDir,
		baseline:      cfg.Baseline,
		defaultPrompt: prompts.OrDefault(cfg.DefaultPrompt, ""),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Checkpoint returns the checkpoint of the loaded model.
func (s *Service) Checkpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.Checkpoint
}

// DefaultPrompt returns the prompt used when callers pass none.
func (s *Service) DefaultPrompt() string {
	return s.defaultPrompt
}

// Reload resolves the preferred checkpoint again, loads it and releases the
// previously loaded model.
func (s *Service) Reload(ctx context.Context) error {
	checkpoint := model.ResolveCheckpoint(s.checkpointDir, s.baseline)

	start := time.Now()
	handle, err := s.runtime.Load(ctx, checkpoint)
	if err != nil {
		return fmt.Errorf("failed to load captioning model %s: %w", checkpoint, err)
	}

	s.mu.Lock()
	previous := s.handle
	s.handle = handle
	s.mu.Unlock()

	logger.With(logger.Fields{
		logger.FieldCheckpoint: handle.Checkpoint,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Captioning model loaded")

	if previous != nil {
		if err := s.runtime.Unload(ctx, previous); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to unload previous captioning model")
		}
	}
	return nil
}

// Describe captions the image at ref (local path or http(s) URL). Image
// acquisition failures are returned as the description text, not as an
// error; model runtime failures are returned as errors.
func (s *Service) Describe(ctx context.Context, ref, prompt string) (string, error) {
	img, err := s.loader.Load(ctx, ref)
	if err != nil {
		return acquisitionText(ctx, err)
	}
	return s.DescribeImage(ctx, img, prompt)
}

// DescribeUpload captions raw uploaded bytes, with the same error contract
// as Describe.
func (s *Service) DescribeUpload(ctx context.Context, filename string, data []byte, prompt string) (string, error) {
	img, err := imagesource.Decode(filename, data)
	if err != nil {
		return acquisitionText(ctx, err)
	}
	return s.DescribeImage(ctx, img, prompt)
}

// DescribeImage captions an already decoded image. The prompt is removed
// from the start of the output when the model echoes it.
func (s *Service) DescribeImage(ctx context.Context, img *imagesource.Image, prompt string) (string, error) {
	prompt = prompts.OrDefault(prompt, s.defaultPrompt)

	dataURL, err := s.loader.DataURL(img)
	if err != nil {
		return acquisitionText(ctx, &imagesource.AcquireError{Kind: imagesource.KindDecode, Source: img.Source, Err: err})
	}

	start := time.Now()
	text, err := s.generate(ctx, dataURL, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate description: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Description generated: source=%s", img.Source)

	return prompts.StripEcho(text, prompt), nil
}

// generate holds the read lock for the whole call so Reload cannot unload
// the handle underneath it.
func (s *Service) generate(ctx context.Context, dataURL, prompt string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runtime.Generate(ctx, s.handle, dataURL, prompt)
}

func acquisitionText(ctx context.Context, err error) (string, error) {
	acqErr, ok := imagesource.AsAcquireError(err)
	if !ok {
		return "", err
	}
	logger.FromContext(ctx).WithError(err).Warn("Image acquisition failed")
	return acqErr.Message(), nil
}
