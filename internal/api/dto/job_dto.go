package dto

import (
	"time"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// SaveJobRequest creates or replaces a job definition.
type SaveJobRequest struct {
	Name          string  `json:"name" binding:"required"`
	ApplicationID *string `json:"application_id"`
	JobType       string  `json:"job_type"`
	CallbackURL   string  `json:"callback_url" binding:"required"`
	Method        string  `json:"method"`
	Headers       string  `json:"headers"`
	Body          string  `json:"body"`
	Schedule      *string `json:"schedule"`
	MaxRetries    *int    `json:"max_retries"`
	Protected     bool    `json:"protected"`
	Paused        bool    `json:"paused"`
}

// WattJobRequest is the idempotent upsert payload keyed by
// (name, application_id).
type WattJobRequest struct {
	Name          string  `json:"name" binding:"required"`
	ApplicationID string  `json:"application_id" binding:"required"`
	CallbackURL   string  `json:"callback_url" binding:"required"`
	Method        string  `json:"method"`
	Headers       string  `json:"headers"`
	Body          string  `json:"body"`
	Schedule      *string `json:"schedule"`
	MaxRetries    *int    `json:"max_retries"`
}

// ICCJobRequest updates a named internal job.
type ICCJobRequest struct {
	Name       string `json:"name"`
	Schedule   string `json:"schedule" binding:"required"`
	URL        string `json:"url" binding:"required"`
	Method     string `json:"method"`
	MaxRetries *int   `json:"max_retries"`
	Paused     bool   `json:"paused"`
}

// SaveMessageRequest schedules an ad-hoc message for an existing job.
// When omitted, `when` defaults to now.
type SaveMessageRequest struct {
	JobID   string     `json:"job_id" binding:"required"`
	Headers *string    `json:"headers"`
	Body    *string    `json:"body"`
	Method  *string    `json:"method"`
	When    *time.Time `json:"when"`
}

// BulkMessagesRequest is the bulk variant of SaveMessageRequest.
type BulkMessagesRequest struct {
	Messages []SaveMessageRequest `json:"messages" binding:"required"`
}

// ListJobsRequest filters and paginates GET /jobs.
type ListJobsRequest struct {
	JobType       string `form:"job_type"`
	ApplicationID string `form:"application_id"`
	PageSize      int    `form:"page_size"`
	Cursor        string `form:"cursor"`
}

// ListJobsResponse carries one page of jobs.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// FieldError is a validation failure attached to a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorsEnvelope mirrors the mutation convention of the surrounding
// framework: validation failures come back in a 200 envelope, not an HTTP
// error status.
type ErrorsEnvelope struct {
	Errors []FieldError `json:"errors"`
}

// JobDTO is the wire representation of a job.
type JobDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ApplicationID *string `json:"application_id,omitempty"`
	JobType       string  `json:"job_type"`
	CallbackURL   string  `json:"callback_url"`
	Method        string  `json:"method"`
	Headers       string  `json:"headers,omitempty"`
	Body          string  `json:"body,omitempty"`
	Schedule      *string `json:"schedule,omitempty"`
	MaxRetries    int     `json:"max_retries"`
	Protected     bool    `json:"protected"`
	Paused        bool    `json:"paused"`
	Status        string  `json:"status"`
	LastRunAt     *string `json:"last_run_at,omitempty"`
	NextRunAt     *string `json:"next_run_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// ICCJobDTO is the compact internal-job view exposed by /icc-jobs.
type ICCJobDTO struct {
	Name       string  `json:"name"`
	Schedule   *string `json:"schedule"`
	URL        string  `json:"url"`
	Method     string  `json:"method"`
	MaxRetries int     `json:"max_retries"`
	Paused     bool    `json:"paused"`
	When       *string `json:"when,omitempty"`
}

// MessageDTO is the wire representation of a message.
type MessageDTO struct {
	ID                 string  `json:"id"`
	JobID              string  `json:"job_id"`
	Headers            *string `json:"headers,omitempty"`
	Body               *string `json:"body,omitempty"`
	Method             *string `json:"method,omitempty"`
	When               string  `json:"when"`
	SentAt             *string `json:"sent_at,omitempty"`
	ResponseStatusCode *int    `json:"response_status_code,omitempty"`
	ResponseBody       *string `json:"response_body,omitempty"`
	Retries            int     `json:"retries"`
	Failed             bool    `json:"failed"`
	NoReschedule       bool    `json:"no_reschedule"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// FromJob converts a domain job to its wire representation.
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		ID:            job.ID,
		Name:          job.Name,
		ApplicationID: job.ApplicationID,
		JobType:       job.JobType,
		CallbackURL:   job.CallbackURL,
		Method:        job.Method,
		Headers:       job.Headers,
		Body:          job.Body,
		Schedule:      job.Schedule,
		MaxRetries:    job.MaxRetries,
		Protected:     job.Protected,
		Paused:        job.Paused,
		Status:        job.Status,
		LastRunAt:     formatTime(job.LastRunAt),
		NextRunAt:     formatTime(job.NextRunAt),
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
}

// FromICCJob converts an internal job to its compact /icc-jobs view.
func FromICCJob(job *domain.Job) ICCJobDTO {
	return ICCJobDTO{
		Name:       job.Name,
		Schedule:   job.Schedule,
		URL:        job.CallbackURL,
		Method:     job.Method,
		MaxRetries: job.MaxRetries,
		Paused:     job.Paused,
		When:       formatTime(job.NextRunAt),
	}
}

// FromMessage converts a domain message to its wire representation.
func FromMessage(msg *domain.Message) MessageDTO {
	return MessageDTO{
		ID:                 msg.ID,
		JobID:              msg.JobID,
		Headers:            msg.Headers,
		Body:               msg.Body,
		Method:             msg.Method,
		When:               msg.RunAt.Format(time.RFC3339),
		SentAt:             formatTime(msg.SentAt),
		ResponseStatusCode: msg.ResponseStatusCode,
		ResponseBody:       msg.ResponseBody,
		Retries:            msg.Retries,
		Failed:             msg.Failed,
		NoReschedule:       msg.NoReschedule,
		CreatedAt:          msg.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          msg.UpdatedAt.Format(time.RFC3339),
	}
}
