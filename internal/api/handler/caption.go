package handler

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/recaption/internal/caption"
	"github.com/timmy/recaption/internal/logger"
)

// CaptionHandler handles description endpoints.
type CaptionHandler struct {
	captionService *caption.Service
}

// NewCaptionHandler creates a new caption handler.
// Parameters:
//   - captionService: caption service instance.
// Returns:
//   - *CaptionHandler: initialized handler.
func NewCaptionHandler(captionService *caption.Service) *CaptionHandler {
	return &CaptionHandler{
		captionService: captionService,
	}
}

// DescribeRequest is the form or JSON body of a describe call. Multipart
// requests may carry the image itself in the "image" field instead.
type DescribeRequest struct {
	ImageURL string `form:"image_url" json:"image_url"`
	Prompt   string `form:"prompt" json:"prompt"`
}

// DescribeResponse carries the generated text. Image acquisition failures
// are reported inline as the description.
type DescribeResponse struct {
	Description string `json:"description"`
	Checkpoint  string `json:"checkpoint"`
}

// Describe handles POST /api/v1/describe.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CaptionHandler) Describe(c *gin.Context) {
	ctx := c.Request.Context()

	var req DescribeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	var (
		text string
		err  error
	)
	if file, fileErr := c.FormFile("image"); fileErr == nil {
		data, readErr := readFormFile(file)
		if readErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image: " + readErr.Error()})
			return
		}
		text, err = h.captionService.DescribeUpload(ctx, file.Filename, data, req.Prompt)
	} else if req.ImageURL != "" {
		text, err = h.captionService.Describe(ctx, req.ImageURL, req.Prompt)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either an image file or image_url is required"})
		return
	}

	if err != nil {
		logger.CtxError(ctx, "Describe failed: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Describe failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, DescribeResponse{
		Description: text,
		Checkpoint:  h.captionService.Checkpoint(),
	})
}

// Model handles GET /api/v1/model.
func (h *CaptionHandler) Model(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"checkpoint":     h.captionService.Checkpoint(),
		"default_prompt": h.captionService.DefaultPrompt(),
	})
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
