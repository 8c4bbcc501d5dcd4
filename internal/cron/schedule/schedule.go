// Package schedule computes cron fire times for the delivery engine.
package schedule

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// parser accepts standard 5-field cron, 6-field cron with seconds
// resolution ("*/1 * * * * *"), and descriptors like "@every 30s".
var parser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Parse validates a cron expression. It wraps parse failures in
// domain.ErrInvalidSchedule so callers can surface them as field errors.
func Parse(expr string) (cronlib.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, expr, err)
	}
	return s, nil
}

// Validate reports whether expr is a well-formed cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the next fire time of expr strictly after from.
// Deterministic: the same expression and reference time always yield the
// same result.
func Next(expr string, from time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}
