package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checkpoint func() string
}

// NewHealthHandler creates a new health handler. checkpoint reports the
// loaded model and may be nil.
func NewHealthHandler(checkpoint func() string) *HealthHandler {
	return &HealthHandler{checkpoint: checkpoint}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.checkpoint != nil {
		if cp := h.checkpoint(); cp != "" {
			resp["checkpoint"] = cp
		} else {
			resp["status"] = "loading"
		}
	}
	c.JSON(http.StatusOK, resp)
}
