package domain

import "time"

// Resolution is the terminal outcome of a delivery attempt. It spans two
// rows (the resolved message and the owning job) and, for a recurring job,
// the insert of the next occurrence; the store applies it atomically.
type Resolution struct {
	MessageID          string
	JobID              string
	SentAt             time.Time
	ResponseStatusCode *int
	ResponseBody       *string
	Failed             bool
	JobStatus          string

	// NextMessage is the next periodic occurrence to materialize, nil when
	// the job is one-shot, paused, deleted, or the message was flagged
	// noReschedule. NextRunAt mirrors NextMessage.RunAt on the job row.
	NextMessage *Message
	NextRunAt   *time.Time
}
