package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/icclabs/icc-cron/internal/api/dto"
	"github.com/icclabs/icc-cron/internal/cron/service"
)

// SaveMessage handles POST /api/v1/messages
// Schedules an ad-hoc message for an existing job; `when` defaults to now.
func (h *JobHandler) SaveMessage(c *gin.Context) {
	var req dto.SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	msg, err := h.service.SaveMessage(c.Request.Context(), &service.MessageInput{
		JobID:   req.JobID,
		Headers: req.Headers,
		Body:    req.Body,
		Method:  req.Method,
		RunAt:   req.When,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromMessage(msg))
}

// InsertMessages handles POST /api/v1/messages/bulk
// All rows are inserted in one transaction.
func (h *JobHandler) InsertMessages(c *gin.Context) {
	var req dto.BulkMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	inputs := make([]*service.MessageInput, len(req.Messages))
	for i, m := range req.Messages {
		inputs[i] = &service.MessageInput{
			JobID:   m.JobID,
			Headers: m.Headers,
			Body:    m.Body,
			Method:  m.Method,
			RunAt:   m.When,
		}
	}

	msgs, err := h.service.InsertMessages(c.Request.Context(), inputs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := make([]dto.MessageDTO, len(msgs))
	for i, msg := range msgs {
		response[i] = dto.FromMessage(msg)
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": response,
	})
}

// GetMessage handles GET /api/v1/messages/:message_id
func (h *JobHandler) GetMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if _, err := uuid.Parse(messageID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message_id must be a valid UUID",
		})
		return
	}

	msg, err := h.service.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromMessage(msg))
}

// CancelMessage handles GET /api/v1/messages/:message_id/cancel
// Marks a pending or retrying message failed; the row remains for history.
func (h *JobHandler) CancelMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if _, err := uuid.Parse(messageID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message_id must be a valid UUID",
		})
		return
	}

	msg, err := h.service.CancelMessage(c.Request.Context(), messageID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromMessage(msg))
}
