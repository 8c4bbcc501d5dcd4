package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/icclabs/icc-cron/internal/api/dto"
	"github.com/icclabs/icc-cron/internal/cron/service"
)

// ListICCJobs handles GET /api/v1/icc-jobs
func (h *JobHandler) ListICCJobs(c *gin.Context) {
	jobs, err := h.service.ListICCJobs(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := make([]dto.ICCJobDTO, len(jobs))
	for i := range jobs {
		response[i] = dto.FromICCJob(&jobs[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs": response,
	})
}

// GetICCJob handles GET /api/v1/icc-jobs/:name
func (h *JobHandler) GetICCJob(c *gin.Context) {
	job, err := h.service.GetICCJob(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromICCJob(job))
}

// PutICCJob handles PUT /api/v1/icc-jobs/:name
func (h *JobHandler) PutICCJob(c *gin.Context) {
	var req dto.ICCJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.service.UpdateICCJob(c.Request.Context(), c.Param("name"), iccInput(&req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromICCJob(job))
}

// PutICCJobs handles PUT /api/v1/icc-jobs (bulk)
func (h *JobHandler) PutICCJobs(c *gin.Context) {
	var req struct {
		Jobs []dto.ICCJobRequest `json:"jobs" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	response := make([]dto.ICCJobDTO, 0, len(req.Jobs))
	for i := range req.Jobs {
		item := req.Jobs[i]
		if item.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Job name is required",
			})
			return
		}

		job, err := h.service.UpdateICCJob(c.Request.Context(), item.Name, iccInput(&item))
		if err != nil {
			h.respondError(c, err)
			return
		}
		response = append(response, dto.FromICCJob(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs": response,
	})
}

func iccInput(req *dto.ICCJobRequest) *service.JobInput {
	sched := req.Schedule
	return &service.JobInput{
		CallbackURL: req.URL,
		Method:      req.Method,
		Schedule:    &sched,
		MaxRetries:  req.MaxRetries,
		Paused:      req.Paused,
		Protected:   true,
	}
}
