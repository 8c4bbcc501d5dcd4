package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// MemStore is an in-memory Store with the same semantics as the PostgreSQL
// implementation. It backs the engine and service tests and local
// development without a database.
type MemStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	messages map[string]*domain.Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:     make(map[string]*domain.Job),
		messages: make(map[string]*domain.Message),
	}
}

func copyJob(j *domain.Job) *domain.Job {
	c := *j
	return &c
}

func copyMessage(m *domain.Message) *domain.Message {
	c := *m
	return &c
}

// CreateJob inserts a job row.
func (s *MemStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// CreateJobWithFirstMessage inserts a job and its first message atomically.
func (s *MemStore) CreateJobWithFirstMessage(_ context.Context, job *domain.Job, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	if msg != nil {
		s.messages[msg.ID] = copyMessage(msg)
	}
	return nil
}

// UpdateJobDefinition rewrites the mutable definition fields and bumps
// updated_at.
func (s *MemStore) UpdateJobDefinition(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok || existing.Deleted() {
		return domain.ErrJobNotFound
	}
	existing.CallbackURL = job.CallbackURL
	existing.Method = job.Method
	existing.Headers = job.Headers
	existing.Body = job.Body
	existing.Schedule = job.Schedule
	existing.MaxRetries = job.MaxRetries
	existing.NextRunAt = job.NextRunAt
	existing.UpdatedAt = time.Now()
	return nil
}

// GetJob retrieves a job by id, filtering out logically deleted rows.
func (s *MemStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Deleted() {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

// GetICCJobByName retrieves an internal job by name.
func (s *MemStore) GetICCJobByName(_ context.Context, name string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Name == name && job.JobType == domain.JobTypeICC && !job.Deleted() {
			return copyJob(job), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

// GetWattJob retrieves an application job by (name, applicationID).
func (s *MemStore) GetWattJob(_ context.Context, name, applicationID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Name == name && job.JobType == domain.JobTypeWATT && !job.Deleted() &&
			job.ApplicationID != nil && *job.ApplicationID == applicationID {
			return copyJob(job), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

// ListJobs returns jobs matching the filter, newest first, with one extra
// row past PageSize.
func (s *MemStore) ListJobs(_ context.Context, filter JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.Deleted() {
			continue
		}
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		if filter.ApplicationID != "" &&
			(job.ApplicationID == nil || *job.ApplicationID != filter.ApplicationID) {
			continue
		}
		jobs = append(jobs, *copyJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if filter.Cursor != nil {
		pos := 0
		for pos < len(jobs) {
			j := jobs[pos]
			if j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID < filter.Cursor.JobID) {
				break
			}
			pos++
		}
		jobs = jobs[pos:]
	}

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

// UpdateJobStatus sets only the job's status field.
func (s *MemStore) UpdateJobStatus(_ context.Context, jobID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Deleted() {
		return domain.ErrJobNotFound
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return nil
}

// DeleteJob logically deletes a job and cancels its pending messages.
func (s *MemStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Deleted() {
		return domain.ErrJobNotFound
	}
	if job.Protected {
		return domain.ErrProtectedJob
	}

	now := time.Now()
	job.DeletedAt = &now
	job.NextRunAt = nil
	job.UpdatedAt = now
	s.cancelPendingLocked(id)
	return nil
}

// PauseJob pauses the job and cancels its pending messages.
func (s *MemStore) PauseJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Deleted() {
		return domain.ErrJobNotFound
	}
	job.Paused = true
	job.NextRunAt = nil
	job.UpdatedAt = time.Now()
	s.cancelPendingLocked(id)
	return nil
}

// ResumeJob un-pauses the job and inserts the pending message for the
// freshly computed next_run_at. One-shot jobs resume with a nil nextRunAt
// and no message.
func (s *MemStore) ResumeJob(_ context.Context, id string, nextRunAt *time.Time, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Deleted() {
		return domain.ErrJobNotFound
	}
	job.Paused = false
	job.NextRunAt = nextRunAt
	job.UpdatedAt = time.Now()
	if msg != nil {
		s.messages[msg.ID] = copyMessage(msg)
	}
	return nil
}

// RescheduleJob replaces pending messages with a single new occurrence.
func (s *MemStore) RescheduleJob(_ context.Context, id string, nextRunAt time.Time, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Deleted() {
		return domain.ErrJobNotFound
	}
	s.cancelPendingLocked(id)
	job.NextRunAt = &nextRunAt
	job.UpdatedAt = time.Now()
	s.messages[msg.ID] = copyMessage(msg)
	return nil
}

// CreateMessage inserts a single message.
func (s *MemStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = copyMessage(msg)
	return nil
}

// CreateMessages inserts a batch of messages.
func (s *MemStore) CreateMessages(_ context.Context, msgs []*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.messages[msg.ID] = copyMessage(msg)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *MemStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

// ListMessagesByJob returns a job's messages, newest first.
func (s *MemStore) ListMessagesByJob(_ context.Context, jobID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []domain.Message
	for _, msg := range s.messages {
		if msg.JobID == jobID {
			msgs = append(msgs, *copyMessage(msg))
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].RunAt.Equal(msgs[j].RunAt) {
			return msgs[i].RunAt.After(msgs[j].RunAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
	return msgs, nil
}

// FindDueMessages returns pending messages due at or before now, earliest
// first.
func (s *MemStore) FindDueMessages(_ context.Context, now time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Message
	for _, msg := range s.messages {
		if msg.Pending() && !msg.RunAt.After(now) {
			due = append(due, *copyMessage(msg))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CancelMessage marks a pending message failed, keeping the row.
func (s *MemStore) CancelMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if msg.SentAt != nil {
		return nil, domain.ErrMessageCancelled
	}
	msg.Failed = true
	msg.UpdatedAt = time.Now()
	return copyMessage(msg), nil
}

// RescheduleRetry moves a message to a new fire time with an incremented
// retry counter, unless it was cancelled in the meantime.
func (s *MemStore) RescheduleRetry(_ context.Context, id string, runAt time.Time, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || !msg.Pending() {
		return domain.ErrMessageCancelled
	}
	msg.RunAt = runAt
	msg.Retries = retries
	msg.UpdatedAt = time.Now()
	return nil
}

// ResolveMessage applies a delivery resolution atomically.
func (s *MemStore) ResolveMessage(_ context.Context, res *domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[res.MessageID]
	if !ok || !msg.Pending() {
		return domain.ErrMessageCancelled
	}

	now := time.Now()
	sentAt := res.SentAt
	msg.SentAt = &sentAt
	msg.ResponseStatusCode = res.ResponseStatusCode
	msg.ResponseBody = res.ResponseBody
	msg.Failed = res.Failed
	msg.UpdatedAt = now

	if job, ok := s.jobs[res.JobID]; ok && !job.Deleted() {
		job.Status = res.JobStatus
		lastRun := res.SentAt
		job.LastRunAt = &lastRun
		if res.NextRunAt != nil {
			job.NextRunAt = res.NextRunAt
		}
		job.UpdatedAt = now
	}

	if res.NextMessage != nil {
		s.messages[res.NextMessage.ID] = copyMessage(res.NextMessage)
	}
	return nil
}

func (s *MemStore) cancelPendingLocked(jobID string) {
	now := time.Now()
	for _, msg := range s.messages {
		if msg.JobID == jobID && msg.Pending() {
			msg.Failed = true
			msg.UpdatedAt = now
		}
	}
}
