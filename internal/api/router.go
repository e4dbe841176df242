package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/recaption/internal/api/handler"
	"github.com/timmy/recaption/internal/api/middleware"
	"github.com/timmy/recaption/internal/caption"
	"github.com/timmy/recaption/internal/config"
	"github.com/timmy/recaption/internal/feedback"
	"github.com/timmy/recaption/internal/finetune"
	"github.com/timmy/recaption/internal/logger"
)

// Services bundles what the routes are served from.
type Services struct {
	Caption  *caption.Service
	Feedback *feedback.Store
	FineTune *finetune.Job
	// Runs is optional.
	Runs handler.RunHistory
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(svc.Caption.Checkpoint)
	captionHandler := handler.NewCaptionHandler(svc.Caption)
	feedbackHandler := handler.NewFeedbackHandler(svc.Feedback)
	fineTuneHandler := handler.NewFineTuneHandler(svc.FineTune, svc.Caption, svc.Runs)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Inference
		v1.GET("/model", captionHandler.Model)
		v1.POST("/describe", captionHandler.Describe)

		// Feedback
		v1.POST("/feedback", feedbackHandler.Submit)
		v1.GET("/feedback", feedbackHandler.List)

		// Fine-tuning
		v1.POST("/finetune", fineTuneHandler.Trigger)
		v1.GET("/finetune/status", fineTuneHandler.Status)
		v1.GET("/finetune/runs", fineTuneHandler.Runs)
		v1.GET("/finetune/runs/:id", fineTuneHandler.Run)
	}

	return r
}
