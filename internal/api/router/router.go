package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icclabs/icc-cron/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "icc-cron-api",
		})
	})

	// Prometheus scrape endpoint
	if deps.Registry != nil {
		metricsHandler := promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// PUT /api/v1/jobs - Save a job definition
			jobs.PUT("", jobHandler.SaveJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/v1/jobs/:job_id - Soft-delete a job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)

			// GET /api/v1/jobs/:job_id/pause - Pause a recurring job
			jobs.GET("/:job_id/pause", jobHandler.PauseJob)

			// GET /api/v1/jobs/:job_id/resume - Resume a paused job
			jobs.GET("/:job_id/resume", jobHandler.ResumeJob)

			// GET /api/v1/jobs/:job_id/run - Schedule an immediate delivery
			jobs.GET("/:job_id/run", jobHandler.RunJob)

			// GET /api/v1/jobs/:job_id/messages - Delivery history
			jobs.GET("/:job_id/messages", jobHandler.ListJobMessages)
		}

		messages := v1.Group("/messages")
		{
			// POST /api/v1/messages - Schedule an ad-hoc message
			messages.POST("", jobHandler.SaveMessage)

			// POST /api/v1/messages/bulk - Schedule many messages at once
			messages.POST("/bulk", jobHandler.InsertMessages)

			// GET /api/v1/messages/:message_id - Get message details
			messages.GET("/:message_id", jobHandler.GetMessage)

			// GET /api/v1/messages/:message_id/cancel - Cancel a pending message
			messages.GET("/:message_id/cancel", jobHandler.CancelMessage)
		}

		iccJobs := v1.Group("/icc-jobs")
		{
			// GET /api/v1/icc-jobs - List platform jobs
			iccJobs.GET("", jobHandler.ListICCJobs)

			// PUT /api/v1/icc-jobs - Bulk upsert platform jobs
			iccJobs.PUT("", jobHandler.PutICCJobs)

			// GET /api/v1/icc-jobs/:name - Get a platform job by name
			iccJobs.GET("/:name", jobHandler.GetICCJob)

			// PUT /api/v1/icc-jobs/:name - Upsert a platform job
			iccJobs.PUT("/:name", jobHandler.PutICCJob)
		}

		// PUT /api/v1/watt-jobs - Idempotent upsert keyed by (name, application_id)
		v1.PUT("/watt-jobs", jobHandler.UpsertWattJob)
	}

	return r
}
