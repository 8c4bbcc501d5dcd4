package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/schedule"
)

// UpsertWattJob applies an application job definition keyed by
// (name, applicationID). Callers re-submit definitions on every deploy, so
// the no-change path must not write at all: updated_at stays untouched.
func (s *Service) UpsertWattJob(ctx context.Context, name, applicationID string, in *JobInput) (*domain.Job, error) {
	existing, err := s.store.GetWattJob(ctx, name, applicationID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			create := *in
			create.Name = name
			create.ApplicationID = &applicationID
			create.JobType = domain.JobTypeWATT
			return s.SaveJob(ctx, &create)
		}
		return nil, err
	}

	return s.applyDefinition(ctx, existing, in)
}

// upsertICCJob applies an internal job definition keyed by its globally
// unique name. Internal jobs are protected: they can be edited but never
// deleted.
func (s *Service) upsertICCJob(ctx context.Context, name string, in *JobInput) (*domain.Job, error) {
	existing, err := s.store.GetICCJobByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			create := *in
			create.Name = name
			create.ApplicationID = nil
			create.JobType = domain.JobTypeICC
			create.Protected = true
			return s.SaveJob(ctx, &create)
		}
		return nil, err
	}

	return s.applyDefinition(ctx, existing, in)
}

// applyDefinition updates an existing job in place (same id). When nothing
// differs the call is a no-op. When the schedule changed, next_run_at is
// re-derived from now and the pending message is replaced.
func (s *Service) applyDefinition(ctx context.Context, job *domain.Job, in *JobInput) (*domain.Job, error) {
	if in.Schedule != nil && *in.Schedule != "" {
		if err := schedule.Validate(*in.Schedule); err != nil {
			return nil, err
		}
	}

	if job.DefinitionEquals(in.CallbackURL, in.method(), in.Headers, in.Body, in.Schedule, in.maxRetries()) {
		return job, nil
	}

	scheduleChanged := !scheduleEqual(job.Schedule, in.Schedule)

	job.CallbackURL = in.CallbackURL
	job.Method = in.method()
	job.Headers = in.Headers
	job.Body = in.Body
	job.Schedule = in.Schedule
	job.MaxRetries = in.maxRetries()

	if scheduleChanged && job.Schedulable() {
		next, err := schedule.Next(*job.Schedule, time.Now())
		if err != nil {
			return nil, err
		}
		job.NextRunAt = &next
	} else if !job.Recurring() {
		job.NextRunAt = nil
	}

	if err := s.store.UpdateJobDefinition(ctx, job); err != nil {
		return nil, err
	}

	if scheduleChanged && job.Schedulable() {
		now := time.Now()
		msg := &domain.Message{
			ID:        uuid.New().String(),
			JobID:     job.ID,
			RunAt:     *job.NextRunAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.RescheduleJob(ctx, job.ID, *job.NextRunAt, msg); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Job definition updated",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
		slog.Bool("schedule_changed", scheduleChanged),
	)
	s.notify()
	return s.store.GetJob(ctx, job.ID)
}

func scheduleEqual(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}
