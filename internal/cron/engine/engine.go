// Package engine drives message delivery: a polling loop discovers due
// messages and feeds them to a bounded pool of delivery workers.
package engine

import (
	"context"
	"time"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// Store is the persistence surface the engine needs. The PostgreSQL and
// in-memory stores both satisfy it.
type Store interface {
	FindDueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	UpdateJobStatus(ctx context.Context, jobID, status string) error
	RescheduleRetry(ctx context.Context, id string, runAt time.Time, retries int) error
	ResolveMessage(ctx context.Context, res *domain.Resolution) error
}
