package domain

import "time"

// RunStatus represents the status of a fine-tune run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped marks a run that found no feedback table.
	RunStatusSkipped RunStatus = "skipped"
)

// FineTuneRun is the audit record of one pass over the feedback table.
type FineTuneRun struct {
	ID               string     `gorm:"type:text;primaryKey" json:"id"`
	Status           RunStatus  `gorm:"type:text;index;default:running" json:"status"`
	BaseCheckpoint   string     `gorm:"type:text" json:"base_checkpoint"`
	OutputCheckpoint string     `gorm:"type:text" json:"output_checkpoint"`
	TotalRows        int        `gorm:"default:0" json:"total_rows"`
	TrainedRows      int        `gorm:"default:0" json:"trained_rows"`
	SkippedRows      int        `gorm:"default:0" json:"skipped_rows"`
	MeanLoss         float64    `gorm:"default:0" json:"mean_loss"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ErrorLog         string     `json:"error_log,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for FineTuneRun.
func (FineTuneRun) TableName() string {
	return "finetune_runs"
}
