package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/recaption/internal/domain"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("fine-tune run not found")

// FineTuneRunRepository stores the history of fine-tune runs.
type FineTuneRunRepository struct {
	db *gorm.DB
}

// NewFineTuneRunRepository creates a new FineTuneRunRepository.
func NewFineTuneRunRepository(db *gorm.DB) *FineTuneRunRepository {
	return &FineTuneRunRepository{db: db}
}

// Create inserts a new run record.
func (r *FineTuneRunRepository) Create(ctx context.Context, run *domain.FineTuneRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves all fields of an existing run record.
func (r *FineTuneRunRepository) Update(ctx context.Context, run *domain.FineTuneRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// GetByID retrieves a run by its ID.
func (r *FineTuneRunRepository) GetByID(ctx context.Context, id string) (*domain.FineTuneRun, error) {
	var run domain.FineTuneRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns up to limit runs, newest first.
func (r *FineTuneRunRepository) ListRecent(ctx context.Context, limit int) ([]domain.FineTuneRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.FineTuneRun
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
