package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/icclabs/icc-cron/internal/api/dto"
	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/service"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Service  *service.Service
	Registry *prometheus.Registry
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service *service.Service
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// respondError maps service errors onto the HTTP surface. Invalid cron
// expressions are user input errors and come back in a 200 envelope with
// an errors[] array, matching the surrounding framework's mutation
// convention. Protected deletes fail loudly with a 500-class status.
func (h *JobHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSchedule):
		c.JSON(http.StatusOK, dto.ErrorsEnvelope{
			Errors: []dto.FieldError{
				{Field: "schedule", Message: "Invalid cron expression"},
			},
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Message not found",
		})
	case errors.Is(err, domain.ErrMessageCancelled):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Message has already been resolved",
		})
	case errors.Is(err, domain.ErrProtectedJob):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Job is protected and cannot be deleted",
		})
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
	}
}
