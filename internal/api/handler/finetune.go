package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/recaption/internal/caption"
	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/finetune"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/repository"
)

// RunHistory reads recorded fine-tune runs. Implemented by
// repository.FineTuneRunRepository.
type RunHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.FineTuneRun, error)
	GetByID(ctx context.Context, id string) (*domain.FineTuneRun, error)
}

// FineTuneHandler triggers fine-tune passes and reports on them.
type FineTuneHandler struct {
	job            *finetune.Job
	captionService *caption.Service
	runs           RunHistory

	mu            sync.RWMutex
	isRunning     bool
	lastStats     *finetune.RunStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewFineTuneHandler creates a new fine-tune handler.
// Parameters:
//   - job: fine-tune job instance.
//   - captionService: service reloaded after a successful pass.
//   - runs: run history, may be nil.
// Returns:
//   - *FineTuneHandler: initialized handler.
func NewFineTuneHandler(job *finetune.Job, captionService *caption.Service, runs RunHistory) *FineTuneHandler {
	return &FineTuneHandler{
		job:            job,
		captionService: captionService,
		runs:           runs,
	}
}

// FineTuneResponse represents the fine-tune API response.
type FineTuneResponse struct {
	Message    string             `json:"message"`
	Stats      *finetune.RunStats `json:"stats,omitempty"`
	Checkpoint string             `json:"checkpoint"`
}

// FineTuneStatusResponse represents the fine-tune status.
type FineTuneStatusResponse struct {
	IsRunning     bool               `json:"is_running"`
	LastRunTime   string             `json:"last_run_time,omitempty"`
	LastRunStatus string             `json:"last_run_status,omitempty"`
	LastStats     *finetune.RunStats `json:"last_stats,omitempty"`
}

// Trigger handles POST /api/v1/finetune. The pass runs synchronously and
// the caption service is reloaded afterwards.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FineTuneHandler) Trigger(c *gin.Context) {
	ctx := c.Request.Context()
	logger.CtxInfo(ctx, "Received fine-tune request: client_ip=%s", c.ClientIP())

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Fine-tune request rejected: already running, client_ip=%s", c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "Fine-tune is already running"})
		return
	}
	h.isRunning = true
	h.mu.Unlock()

	// Detach from the request so a dropped client does not abort training.
	runCtx := context.WithoutCancel(ctx)
	stats, err := h.job.Run(runCtx)

	h.mu.Lock()
	h.isRunning = false
	h.lastRunTime = time.Now()
	if stats != nil {
		h.lastStats = stats
	}
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = string(stats.Status)
	}
	h.mu.Unlock()

	if errors.Is(err, finetune.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "Fine-tune is already running"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      err.Error(),
			"request_id": logger.GetRequestID(ctx),
		})
		return
	}

	message := "Fine-tune completed successfully"
	if stats.Status == domain.RunStatusSkipped {
		message = "No feedback recorded yet, nothing to train"
	} else if err := h.captionService.Reload(runCtx); err != nil {
		logger.CtxError(ctx, "Failed to reload captioning model: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fine-tune completed but reload failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, FineTuneResponse{
		Message:    message,
		Stats:      stats,
		Checkpoint: h.captionService.Checkpoint(),
	})
}

// Status handles GET /api/v1/finetune/status.
func (h *FineTuneHandler) Status(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := FineTuneStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		LastStats:     h.lastStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Runs handles GET /api/v1/finetune/runs.
func (h *FineTuneHandler) Runs(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []domain.FineTuneRun{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Run handles GET /api/v1/finetune/runs/:id.
func (h *FineTuneHandler) Run(c *gin.Context) {
	id := c.Param("id")
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run history is not enabled"})
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found: " + id})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
