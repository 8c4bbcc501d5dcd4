package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/icclabs/icc-cron/internal/api/dto"
	"github.com/icclabs/icc-cron/internal/cron/service"
	"github.com/icclabs/icc-cron/internal/cron/storage"
)

// SaveJob handles PUT /api/v1/jobs
// Creates a job definition, scheduling its first message when recurring.
func (h *JobHandler) SaveJob(c *gin.Context) {
	var req dto.SaveJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.service.SaveJob(c.Request.Context(), &service.JobInput{
		Name:          req.Name,
		ApplicationID: req.ApplicationID,
		JobType:       req.JobType,
		CallbackURL:   req.CallbackURL,
		Method:        req.Method,
		Headers:       req.Headers,
		Body:          req.Body,
		Schedule:      req.Schedule,
		MaxRetries:    req.MaxRetries,
		Protected:     req.Protected,
		Paused:        req.Paused,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), storage.JobFilter{
		JobType:       req.JobType,
		ApplicationID: req.ApplicationID,
		PageSize:      req.PageSize,
		Cursor:        cursor,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	response := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		response[i] = dto.FromJob(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       response,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// The delete is logical; message history is preserved. Protected jobs
// cannot be deleted.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.service.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PauseJob handles GET /api/v1/jobs/:job_id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	job, err := h.service.PauseJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ResumeJob handles GET /api/v1/jobs/:job_id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	job, err := h.service.ResumeJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// RunJob handles GET /api/v1/jobs/:job_id/run
// Schedules an immediate ad-hoc delivery outside the job's cadence.
func (h *JobHandler) RunJob(c *gin.Context) {
	msg, err := h.service.RunNow(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromMessage(msg))
}

// ListJobMessages handles GET /api/v1/jobs/:job_id/messages
// Returns the job's full delivery history, newest first.
func (h *JobHandler) ListJobMessages(c *gin.Context) {
	msgs, err := h.service.ListMessages(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := make([]dto.MessageDTO, len(msgs))
	for i := range msgs {
		response[i] = dto.FromMessage(&msgs[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": response,
	})
}

// UpsertWattJob handles PUT /api/v1/watt-jobs
// Idempotent upsert keyed by (name, application_id): identical payloads
// cause no write at all.
func (h *JobHandler) UpsertWattJob(c *gin.Context) {
	var req dto.WattJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.service.UpsertWattJob(c.Request.Context(), req.Name, req.ApplicationID, &service.JobInput{
		CallbackURL: req.CallbackURL,
		Method:      req.Method,
		Headers:     req.Headers,
		Body:        req.Body,
		Schedule:    req.Schedule,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}
