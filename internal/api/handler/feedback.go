package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/recaption/internal/domain"
	"github.com/timmy/recaption/internal/feedback"
	"github.com/timmy/recaption/internal/logger"
	"github.com/timmy/recaption/internal/storage"
)

// FeedbackHandler handles feedback collection endpoints.
type FeedbackHandler struct {
	store *feedback.Store
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(store *feedback.Store) *FeedbackHandler {
	return &FeedbackHandler{store: store}
}

// FeedbackListResponse is a page of stored feedback rows.
type FeedbackListResponse struct {
	Records []domain.FeedbackRecord `json:"records"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Submit handles POST /api/v1/feedback (multipart: image,
// generated_description, user_feedback).
func (h *FeedbackHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "An image file is required"})
		return
	}
	data, err := readFormFile(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image: " + err.Error()})
		return
	}

	record, err := h.store.Submit(ctx,
		feedback.Upload{Filename: file.Filename, Data: data},
		c.PostForm("generated_description"),
		c.PostForm("user_feedback"),
	)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, feedback.ErrImageNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.CtxError(ctx, "Failed to record feedback: image=%s, error=%v", file.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record feedback: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, record)
}

// List handles GET /api/v1/feedback.
func (h *FeedbackHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.store.Records(c.Request.Context())
	if err != nil && !errors.Is(err, feedback.ErrTableNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read feedback: " + err.Error()})
		return
	}

	page := []domain.FeedbackRecord{}
	if offset < len(records) {
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		page = records[offset:end]
	}

	c.JSON(http.StatusOK, FeedbackListResponse{
		Records: page,
		Total:   len(records),
		Limit:   limit,
		Offset:  offset,
	})
}
