package domain

import "time"

// Message is one concrete delivery attempt belonging to a Job. A retry does
// not create a second row: the same row is rescheduled with an incremented
// retry counter until it either succeeds or exhausts the job's retry budget.
type Message struct {
	ID                 string     `db:"id"`
	JobID              string     `db:"job_id"`
	Headers            *string    `db:"headers"` // overrides the job's when set
	Body               *string    `db:"body"`
	Method             *string    `db:"method"`
	RunAt              time.Time  `db:"run_at"` // scheduled fire time
	SentAt             *time.Time `db:"sent_at"`
	ResponseStatusCode *int       `db:"response_status_code"`
	ResponseBody       *string    `db:"response_body"`
	Retries            int        `db:"retries"`
	Failed             bool       `db:"failed"`
	NoReschedule       bool       `db:"no_reschedule"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// Pending reports whether the message is still eligible for delivery.
// Cancellation marks the row failed without setting SentAt, so both
// conditions matter.
func (m *Message) Pending() bool {
	return m.SentAt == nil && !m.Failed
}

// Terminal reports whether the message has been resolved and will never be
// delivered again.
func (m *Message) Terminal() bool {
	return m.Failed || m.SentAt != nil
}

// EffectiveMethod returns the message's method override, falling back to the
// owning job's method.
func (m *Message) EffectiveMethod(job *Job) string {
	if m.Method != nil && *m.Method != "" {
		return *m.Method
	}
	return job.Method
}

// EffectiveHeaders returns the message's headers override, falling back to
// the owning job's headers.
func (m *Message) EffectiveHeaders(job *Job) string {
	if m.Headers != nil {
		return *m.Headers
	}
	return job.Headers
}

// EffectiveBody returns the message's body override, falling back to the
// owning job's body.
func (m *Message) EffectiveBody(job *Job) string {
	if m.Body != nil {
		return *m.Body
	}
	return job.Body
}
