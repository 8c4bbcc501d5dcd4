// Package service implements the job lifecycle API: create/update jobs,
// schedule ad-hoc messages, pause/resume/run-now, cancellation, and the
// idempotent upsert paths used by deploys and the internal job bootstrap.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/schedule"
	"github.com/icclabs/icc-cron/internal/cron/storage"
)

// Store is the persistence surface the lifecycle API needs.
type Store interface {
	CreateJobWithFirstMessage(ctx context.Context, job *domain.Job, msg *domain.Message) error
	UpdateJobDefinition(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetICCJobByName(ctx context.Context, name string) (*domain.Job, error)
	GetWattJob(ctx context.Context, name, applicationID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	PauseJob(ctx context.Context, id string) error
	ResumeJob(ctx context.Context, id string, nextRunAt *time.Time, msg *domain.Message) error
	RescheduleJob(ctx context.Context, id string, nextRunAt time.Time, msg *domain.Message) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
	CreateMessages(ctx context.Context, msgs []*domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessagesByJob(ctx context.Context, jobID string) ([]domain.Message, error)
	CancelMessage(ctx context.Context, id string) (*domain.Message, error)
}

// Service layers the lifecycle operations over the store. The optional wake
// callback nudges the scheduler loop when a message becomes due immediately.
type Service struct {
	store  Store
	logger *slog.Logger
	wake   func()
}

// New creates a Service. wake may be nil.
func New(store Store, logger *slog.Logger, wake func()) *Service {
	return &Service{
		store:  store,
		logger: logger,
		wake:   wake,
	}
}

func (s *Service) notify() {
	if s.wake != nil {
		s.wake()
	}
}

// JobInput is the definition of a job to create or update.
type JobInput struct {
	Name          string
	ApplicationID *string
	JobType       string
	CallbackURL   string
	Method        string
	Headers       string
	Body          string
	Schedule      *string
	MaxRetries    *int
	Protected     bool
	Paused        bool
}

func (in *JobInput) maxRetries() int {
	if in.MaxRetries == nil || *in.MaxRetries < 0 {
		return domain.DefaultMaxRetries
	}
	return *in.MaxRetries
}

func (in *JobInput) method() string {
	if in.Method == "" {
		return "GET"
	}
	return in.Method
}

// SaveJob validates the schedule and creates the job, inserting its first
// scheduled message in the same transaction when the job is recurring and
// not paused.
func (s *Service) SaveJob(ctx context.Context, in *JobInput) (*domain.Job, error) {
	if in.Schedule != nil && *in.Schedule != "" {
		if err := schedule.Validate(*in.Schedule); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	job := &domain.Job{
		ID:            uuid.New().String(),
		Name:          in.Name,
		ApplicationID: in.ApplicationID,
		JobType:       in.JobType,
		CallbackURL:   in.CallbackURL,
		Method:        in.method(),
		Headers:       in.Headers,
		Body:          in.Body,
		Schedule:      in.Schedule,
		MaxRetries:    in.maxRetries(),
		Protected:     in.Protected,
		Paused:        in.Paused,
		Status:        domain.JobStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var firstMsg *domain.Message
	if job.Schedulable() {
		next, err := schedule.Next(*job.Schedule, now)
		if err != nil {
			return nil, err
		}
		job.NextRunAt = &next
		firstMsg = &domain.Message{
			ID:        uuid.New().String(),
			JobID:     job.ID,
			RunAt:     next,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if err := s.store.CreateJobWithFirstMessage(ctx, job, firstMsg); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
		slog.String("job_type", job.JobType),
	)
	s.notify()
	return job, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching the filter.
func (s *Service) ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// DeleteJob logically deletes a job. Protected jobs fail with
// domain.ErrProtectedJob and are left untouched.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	return s.store.DeleteJob(ctx, id)
}

// PauseJob stops a job from firing: next_run_at is cleared and pending
// messages are cancelled.
func (s *Service) PauseJob(ctx context.Context, id string) (*domain.Job, error) {
	if err := s.store.PauseJob(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("Job paused",
		slog.String("job_id", id),
	)
	return s.store.GetJob(ctx, id)
}

// ResumeJob re-activates a paused job. The next fire time is computed fresh
// from now, not from the pre-pause schedule.
func (s *Service) ResumeJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	var nextRunAt *time.Time
	var msg *domain.Message
	if job.Recurring() {
		next, err := schedule.Next(*job.Schedule, time.Now())
		if err != nil {
			return nil, err
		}
		nextRunAt = &next
		now := time.Now()
		msg = &domain.Message{
			ID:        uuid.New().String(),
			JobID:     job.ID,
			RunAt:     next,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if err := s.store.ResumeJob(ctx, id, nextRunAt, msg); err != nil {
		return nil, err
	}

	s.logger.Info("Job resumed",
		slog.String("job_id", id),
	)
	s.notify()
	return s.store.GetJob(ctx, id)
}

// RunNow schedules an immediate ad-hoc delivery. The message is flagged
// noReschedule so it does not trigger the job's next periodic occurrence,
// and the existing scheduled message is left undisturbed.
func (s *Service) RunNow(ctx context.Context, jobID string) (*domain.Message, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &domain.Message{
		ID:           uuid.New().String(),
		JobID:        jobID,
		RunAt:        now,
		NoReschedule: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Info("Run-now message scheduled",
		slog.String("job_id", jobID),
		slog.String("message_id", msg.ID),
	)
	s.notify()
	return msg, nil
}

// MessageInput is an ad-hoc message to schedule for an existing job.
type MessageInput struct {
	JobID   string
	Headers *string
	Body    *string
	Method  *string
	RunAt   *time.Time // defaults to now
}

func (in *MessageInput) toMessage(now time.Time) *domain.Message {
	runAt := now
	if in.RunAt != nil {
		runAt = *in.RunAt
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		JobID:     in.JobID,
		Headers:   in.Headers,
		Body:      in.Body,
		Method:    in.Method,
		RunAt:     runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SaveMessage schedules a single ad-hoc message for an existing job.
func (s *Service) SaveMessage(ctx context.Context, in *MessageInput) (*domain.Message, error) {
	if _, err := s.store.GetJob(ctx, in.JobID); err != nil {
		return nil, err
	}

	msg := in.toMessage(time.Now())
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.notify()
	return msg, nil
}

// InsertMessages is the bulk variant of SaveMessage. All rows are inserted
// in one transaction.
func (s *Service) InsertMessages(ctx context.Context, inputs []*MessageInput) ([]*domain.Message, error) {
	now := time.Now()
	msgs := make([]*domain.Message, 0, len(inputs))
	for _, in := range inputs {
		if _, err := s.store.GetJob(ctx, in.JobID); err != nil {
			return nil, err
		}
		msgs = append(msgs, in.toMessage(now))
	}

	if err := s.store.CreateMessages(ctx, msgs); err != nil {
		return nil, err
	}
	s.notify()
	return msgs, nil
}

// GetMessage returns a message by id.
func (s *Service) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// ListMessages returns a job's delivery history.
func (s *Service) ListMessages(ctx context.Context, jobID string) ([]domain.Message, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesByJob(ctx, jobID)
}

// CancelMessage marks a pending or retrying message failed and stops
// further delivery attempts. The row remains for history.
func (s *Service) CancelMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.store.CancelMessage(ctx, id)
}
