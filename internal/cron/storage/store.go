// Package storage persists jobs and messages in PostgreSQL.
//
// All multi-row writes (job creation with its first message, message
// resolution with the job status update, pause/resume) run inside a single
// transaction so a mid-write failure never leaves a recurring job without a
// pending message.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/icclabs/icc-cron/shared/postgresql"
)

const jobColumns = `
	id, name, application_id, job_type, callback_url, method, headers, body,
	schedule, max_retries, protected, paused, status, last_run_at, next_run_at,
	deleted_at, created_at, updated_at`

const messageColumns = `
	id, job_id, headers, body, method, run_at, sent_at, response_status_code,
	response_body, retries, failed, no_reschedule, created_at, updated_at`

// Store handles all database operations for jobs and messages.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by the given PostgreSQL client.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// NewStoreFromDB creates a Store from a raw sqlx handle. Used by tests.
func NewStoreFromDB(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction",
				slog.Any("error", rbErr),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
