package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, name, application_id, job_type, callback_url, method, headers,
			body, schedule, max_retries, protected, paused, status,
			next_run_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Name,
		job.ApplicationID,
		job.JobType,
		job.CallbackURL,
		job.Method,
		job.Headers,
		job.Body,
		job.Schedule,
		job.MaxRetries,
		job.Protected,
		job.Paused,
		job.Status,
		job.NextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CreateJobWithFirstMessage inserts a job and its first scheduled message in
// one transaction.
func (s *Store) CreateJobWithFirstMessage(ctx context.Context, job *domain.Job, msg *domain.Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertJobTx(ctx, tx, job); err != nil {
			return err
		}
		if msg != nil {
			if err := insertMessageTx(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateJobDefinition rewrites the mutable definition fields of a job and
// bumps updated_at. Callers are expected to skip the call entirely when
// nothing changed, so a write here always means a real edit.
func (s *Store) UpdateJobDefinition(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET callback_url = $1,
		    method = $2,
		    headers = $3,
		    body = $4,
		    schedule = $5,
		    max_retries = $6,
		    next_run_at = $7,
		    updated_at = NOW()
		WHERE id = $8 AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		job.CallbackURL,
		job.Method,
		job.Headers,
		job.Body,
		job.Schedule,
		job.MaxRetries,
		job.NextRunAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by id. Logically deleted jobs are filtered out.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND deleted_at IS NULL`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetICCJobByName retrieves an internal job by its globally unique name.
func (s *Store) GetICCJobByName(ctx context.Context, name string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE name = $1 AND job_type = $2 AND application_id IS NULL AND deleted_at IS NULL
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, name, domain.JobTypeICC); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get ICC job: %w", err)
	}
	return &job, nil
}

// GetWattJob retrieves an application job by its (name, applicationID) key.
func (s *Store) GetWattJob(ctx context.Context, name, applicationID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE name = $1 AND application_id = $2 AND job_type = $3 AND deleted_at IS NULL
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, name, applicationID, domain.JobTypeWATT); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get WATT job: %w", err)
	}
	return &job, nil
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	JobType       string
	ApplicationID string
	PageSize      int
	Cursor        *JobCursor
}

// JobCursor is an opaque pagination position over (created_at, id).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs matching the filter, newest first, fetching one row
// past PageSize so the caller can detect whether more results exist.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	args := []interface{}{}
	argIdx := 1

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.ApplicationID != "" {
		query += fmt.Sprintf(" AND application_id = $%d", argIdx)
		args = append(args, filter.ApplicationID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus sets only the job's status field. Used to flip a job to
// "starting" when a delivery begins.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, status, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// DeleteJob logically deletes a job and cancels its pending messages.
// Protected jobs cannot be deleted; message history is never erased.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var protected bool
		err := tx.QueryRowContext(ctx,
			`SELECT protected FROM jobs WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
			id,
		).Scan(&protected)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrJobNotFound
			}
			return fmt.Errorf("failed to lock job for delete: %w", err)
		}

		if protected {
			return domain.ErrProtectedJob
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET deleted_at = NOW(), next_run_at = NULL, updated_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}

		if err := cancelPendingMessagesTx(ctx, tx, id); err != nil {
			return err
		}

		s.logger.Info("Job deleted",
			slog.String("job_id", id),
		)
		return nil
	})
}

// PauseJob marks the job paused, clears next_run_at, and cancels all pending
// messages so nothing fires while paused.
func (s *Store) PauseJob(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET paused = TRUE, next_run_at = NULL, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`, id)
		if err != nil {
			return fmt.Errorf("failed to pause job: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrJobNotFound
		}

		return cancelPendingMessagesTx(ctx, tx, id)
	})
}

// ResumeJob clears the paused flag, sets the freshly computed next_run_at,
// and inserts the pending message for that time. One-shot jobs resume with
// a nil nextRunAt and no message.
func (s *Store) ResumeJob(ctx context.Context, id string, nextRunAt *time.Time, msg *domain.Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET paused = FALSE, next_run_at = $1, updated_at = NOW()
			WHERE id = $2 AND deleted_at IS NULL
		`, nextRunAt, id)
		if err != nil {
			return fmt.Errorf("failed to resume job: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrJobNotFound
		}

		if msg != nil {
			return insertMessageTx(ctx, tx, msg)
		}
		return nil
	})
}

// RescheduleJob replaces the job's pending messages with a single new
// occurrence. Used when a schedule edit re-derives next_run_at.
func (s *Store) RescheduleJob(ctx context.Context, id string, nextRunAt time.Time, msg *domain.Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := cancelPendingMessagesTx(ctx, tx, id); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET next_run_at = $1, updated_at = NOW()
			WHERE id = $2 AND deleted_at IS NULL
		`, nextRunAt, id)
		if err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}

		return insertMessageTx(ctx, tx, msg)
	})
}

func insertJobTx(ctx context.Context, tx *sqlx.Tx, job *domain.Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, name, application_id, job_type, callback_url, method, headers,
			body, schedule, max_retries, protected, paused, status,
			next_run_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16
		)
	`,
		job.ID,
		job.Name,
		job.ApplicationID,
		job.JobType,
		job.CallbackURL,
		job.Method,
		job.Headers,
		job.Body,
		job.Schedule,
		job.MaxRetries,
		job.Protected,
		job.Paused,
		job.Status,
		job.NextRunAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func cancelPendingMessagesTx(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET failed = TRUE, updated_at = NOW()
		WHERE job_id = $1 AND sent_at IS NULL AND failed = FALSE
	`, jobID)
	if err != nil {
		return fmt.Errorf("failed to cancel pending messages: %w", err)
	}
	return nil
}
