package domain

import "time"

// Job type constants. ICC jobs are seeded internally from configuration,
// WATT jobs are registered on behalf of a managed application.
const (
	JobTypeICC  = "ICC"
	JobTypeWATT = "WATT"
)

// Job status constants, reflecting the most recent delivery outcome.
const (
	JobStatusNew      = "new"
	JobStatusStarting = "starting"
	JobStatusSuccess  = "success"
	JobStatusFailed   = "failed"
)

// DefaultMaxRetries is applied when a job definition does not specify one.
const DefaultMaxRetries = 3

// Job is a durable definition of a recurring or one-shot HTTP callback
// with a retry policy.
type Job struct {
	ID            string     `db:"id"`
	Name          string     `db:"name"`
	ApplicationID *string    `db:"application_id"`
	JobType       string     `db:"job_type"`
	CallbackURL   string     `db:"callback_url"`
	Method        string     `db:"method"`
	Headers       string     `db:"headers"` // JSON-encoded map
	Body          string     `db:"body"`
	Schedule      *string    `db:"schedule"` // cron expression, nil for one-shot jobs
	MaxRetries    int        `db:"max_retries"`
	Protected     bool       `db:"protected"`
	Paused        bool       `db:"paused"`
	Status        string     `db:"status"`
	LastRunAt     *time.Time `db:"last_run_at"`
	NextRunAt     *time.Time `db:"next_run_at"`
	DeletedAt     *time.Time `db:"deleted_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Recurring reports whether the job has a cron schedule.
func (j *Job) Recurring() bool {
	return j.Schedule != nil && *j.Schedule != ""
}

// Deleted reports whether the job has been logically deleted.
func (j *Job) Deleted() bool {
	return j.DeletedAt != nil
}

// Schedulable reports whether the job should have a pending message and a
// non-nil NextRunAt. NextRunAt is non-nil iff this holds.
func (j *Job) Schedulable() bool {
	return j.Recurring() && !j.Paused && !j.Deleted()
}

// DefinitionEquals compares every mutable field of the job definition.
// Used by the idempotent upsert path: when nothing differs the upsert must
// not write at all.
func (j *Job) DefinitionEquals(callbackURL, method, headers, body string, schedule *string, maxRetries int) bool {
	if j.CallbackURL != callbackURL || j.Method != method || j.Headers != headers || j.Body != body {
		return false
	}
	if j.MaxRetries != maxRetries {
		return false
	}
	switch {
	case j.Schedule == nil && schedule == nil:
		return true
	case j.Schedule == nil || schedule == nil:
		return false
	default:
		return *j.Schedule == *schedule
	}
}
