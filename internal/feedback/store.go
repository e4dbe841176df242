package feedback

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/storage"
)

var (
	// ErrTableNotFound is returned when no feedback has been recorded yet.
	ErrTableNotFound = errors.New("feedback table not found")
	// ErrImageNotFound is returned when a record points at a missing file.
	ErrImageNotFound = errors.New("feedback image not found")
	// ErrBadHeader is returned when the table lacks a required column.
	ErrBadHeader = errors.New("feedback table header is missing a column")
)

// Upload is an image as received from a user.
type Upload struct {
	Filename string
	Data     []byte
}

// Store appends feedback rows to a CSV table and keeps the uploaded images
// those rows point at.
type Store struct {
	tablePath string
	uploads   *storage.LocalStorage
	mirror    storage.ObjectStorage

	mu sync.Mutex
}

// StoreConfig holds configuration for the feedback store.
type StoreConfig struct {
	TablePath string
	Uploads   *storage.LocalStorage
	// Mirror, when set, receives a copy of every saved upload.
	Mirror storage.ObjectStorage
}

// NewStore creates a new feedback store.
func NewStore(cfg *StoreConfig) *Store {
	return &Store{
		tablePath: cfg.TablePath,
		uploads:   cfg.Uploads,
		mirror:    cfg.Mirror,
	}
}

// TablePath returns the path of the CSV table.
func (s *Store) TablePath() string {
	return s.tablePath
}

// SaveUpload writes the uploaded bytes into the uploads directory under the
// upload's base file name and returns the stored path. An existing file
// with the same name is overwritten.
func (s *Store) SaveUpload(ctx context.Context, upload Upload) (string, error) {
	name := filepath.Base(filepath.Clean(upload.Filename))
	path, err := s.uploads.Path(name)
	if err != nil {
		return "", err
	}
	if exists, err := s.uploads.Exists(ctx, name); err == nil && exists {
		logger.CtxWarn(ctx, "Upload replaces an earlier image with the same name: image=%s", name)
	}
	if err := s.uploads.Upload(ctx, name, bytes.NewReader(upload.Data), int64(len(upload.Data)), storage.ContentType(name)); err != nil {
		return "", fmt.Errorf("failed to save upload %s: %w", name, err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, name, bytes.NewReader(upload.Data), int64(len(upload.Data)), storage.ContentType(name)); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("image", name).Warn("Failed to mirror upload")
		}
	}
	return path, nil
}

// Submit stores the upload and appends a record pointing at it. The two
// steps are not atomic: a failed append leaves the image in place.
func (s *Store) Submit(ctx context.Context, upload Upload, generated, userFeedback string) (*domain.FeedbackRecord, error) {
	path, err := s.SaveUpload(ctx, upload)
	if err != nil {
		return nil, err
	}

	record := domain.FeedbackRecord{
		ImagePath:            path,
		GeneratedDescription: generated,
		UserFeedback:         userFeedback,
	}
	if err := s.Append(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Append adds one row to the table, creating it with a header on first use.
// The image must exist at the time of the call.
func (s *Store) Append(ctx context.Context, record domain.FeedbackRecord) error {
	info, err := os.Stat(record.ImagePath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrImageNotFound, record.ImagePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.tablePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create feedback dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.tablePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open feedback table: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat feedback table: %w", err)
	}

	w := csv.NewWriter(f)
	if stat.Size() == 0 {
		if err := w.Write(domain.FeedbackColumns); err != nil {
			return fmt.Errorf("failed to write feedback header: %w", err)
		}
	}
	if err := w.Write(record.Row()); err != nil {
		return fmt.Errorf("failed to write feedback row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush feedback row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync feedback table: %w", err)
	}

	logger.CtxInfo(ctx, "Feedback recorded: image=%s", record.ImagePath)
	return nil
}

// Records reads the whole table in insertion order. Every field is kept as
// the raw string that was written.
func (s *Store) Records(ctx context.Context) ([]domain.FeedbackRecord, error) {
	_ = ctx
	s.mu.Lock()
	data, err := os.ReadFile(s.tablePath)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to read feedback table: %w", err)
	}
	return parseTable(bytes.NewReader(data))
}

func parseTable(r io.Reader) ([]domain.FeedbackRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse feedback header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	cols := make([]int, len(domain.FeedbackColumns))
	for i, name := range domain.FeedbackColumns {
		pos, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBadHeader, name)
		}
		cols[i] = pos
	}

	field := func(row []string, col int) string {
		if col < len(row) {
			return row[col]
		}
		return ""
	}

	var records []domain.FeedbackRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse feedback row: %w", err)
		}
		records = append(records, domain.FeedbackRecord{
			ImagePath:            field(row, cols[0]),
			GeneratedDescription: field(row, cols[1]),
			UserFeedback:         field(row, cols[2]),
		})
	}
	return records, nil
}
