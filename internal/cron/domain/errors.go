package domain

import "errors"

var (
	// ErrInvalidSchedule is returned when a cron expression cannot be parsed.
	// This is a user input error and must surface as a field-level validation
	// error, never as a process crash.
	ErrInvalidSchedule = errors.New("invalid cron expression")

	// ErrProtectedJob is returned when attempting to delete a protected job.
	ErrProtectedJob = errors.New("job is protected and cannot be deleted")

	// ErrJobNotFound is returned when a job cannot be found in the database.
	ErrJobNotFound = errors.New("job not found")

	// ErrMessageNotFound is returned when a message cannot be found in the database.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageCancelled is returned when a delivery resolution races a
	// cancellation: the cancelled message must not be resurrected by an
	// in-flight retry.
	ErrMessageCancelled = errors.New("message has been cancelled")
)

// DeliveryError wraps a transport-level failure during an HTTP callback
// (connection refused, timeout). Delivery is asynchronous, so these are
// never surfaced to an API caller: they count against the retry budget
// exactly like a non-2xx response.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "delivery failed: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError wraps err as a transport-level delivery failure.
func NewDeliveryError(err error) error {
	return &DeliveryError{Err: err}
}
