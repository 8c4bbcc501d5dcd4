package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/storage"
)

// ICCJobSpec describes one internal job from configuration: fleet-scaling
// prediction, dependency-risk scanning, and similar system automation. The
// catalogue is enumerated once at process start and applied through the
// idempotent upsert path.
type ICCJobSpec struct {
	Name       string
	Schedule   string
	URL        string
	Method     string
	MaxRetries int
	Paused     bool
	Enabled    bool
}

// ApplyICCJobs seeds the internal job catalogue. Disabled specs are skipped
// entirely; enabled specs are upserted, so re-running at every start is
// safe and unchanged definitions cause no writes. All ICC jobs are
// protected.
func (s *Service) ApplyICCJobs(ctx context.Context, specs []ICCJobSpec) error {
	for _, spec := range specs {
		if !spec.Enabled {
			s.logger.Debug("Internal job disabled, skipping",
				slog.String("name", spec.Name),
			)
			continue
		}

		sched := spec.Schedule
		maxRetries := spec.MaxRetries
		in := &JobInput{
			CallbackURL: spec.URL,
			Method:      spec.Method,
			Schedule:    &sched,
			MaxRetries:  &maxRetries,
			Paused:      spec.Paused,
		}

		job, err := s.upsertICCJob(ctx, spec.Name, in)
		if err != nil {
			return fmt.Errorf("failed to apply internal job %q: %w", spec.Name, err)
		}

		s.logger.Info("Internal job applied",
			slog.String("name", spec.Name),
			slog.String("job_id", job.ID),
			slog.String("schedule", spec.Schedule),
		)
	}
	return nil
}

// GetICCJob returns an internal job by name.
func (s *Service) GetICCJob(ctx context.Context, name string) (*domain.Job, error) {
	return s.store.GetICCJobByName(ctx, name)
}

// ListICCJobs returns all internal jobs.
func (s *Service) ListICCJobs(ctx context.Context) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, storage.JobFilter{
		JobType:  domain.JobTypeICC,
		PageSize: 100,
	})
}

// UpdateICCJob applies a new definition to a named internal job.
func (s *Service) UpdateICCJob(ctx context.Context, name string, in *JobInput) (*domain.Job, error) {
	return s.upsertICCJob(ctx, name, in)
}
