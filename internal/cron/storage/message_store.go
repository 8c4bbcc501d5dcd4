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

// CreateMessage inserts a single pending message.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertMessageTx(ctx, tx, msg)
	})
}

// CreateMessages inserts a batch of messages in one transaction.
func (s *Store) CreateMessages(ctx context.Context, msgs []*domain.Message) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, msg := range msgs {
			if err := insertMessageTx(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var msg domain.Message
	if err := s.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessagesByJob returns all messages belonging to a job, newest first.
func (s *Store) ListMessagesByJob(ctx context.Context, jobID string) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE job_id = $1
		ORDER BY run_at DESC, id DESC
	`

	var msgs []domain.Message
	if err := s.db.SelectContext(ctx, &msgs, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// FindDueMessages returns pending messages whose scheduled time has arrived,
// ordered by run_at ascending for earliest-due-first delivery fairness.
func (s *Store) FindDueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sent_at IS NULL AND failed = FALSE AND run_at <= $1
		ORDER BY run_at ASC
		LIMIT $2
	`

	var msgs []domain.Message
	if err := s.db.SelectContext(ctx, &msgs, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to find due messages: %w", err)
	}
	return msgs, nil
}

// CancelMessage marks a pending or retrying message failed without erasing
// the row. Terminal messages are left untouched.
func (s *Store) CancelMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET failed = TRUE, updated_at = NOW()
		WHERE id = $1 AND sent_at IS NULL
		RETURNING ` + messageColumns

	var msg domain.Message
	if err := s.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the row does not exist or it already resolved.
			if _, getErr := s.GetMessage(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrMessageCancelled
		}
		return nil, fmt.Errorf("failed to cancel message: %w", err)
	}

	s.logger.Info("Message cancelled",
		slog.String("message_id", id),
		slog.String("job_id", msg.JobID),
	)
	return &msg, nil
}

// RescheduleRetry moves a failed delivery's message to a new fire time and
// increments its retry counter. The same row is reused; no second row is
// created. The WHERE guard re-checks the cancellation flag so a message
// cancelled mid-flight is never resurrected.
func (s *Store) RescheduleRetry(ctx context.Context, id string, runAt time.Time, retries int) error {
	query := `
		UPDATE messages
		SET run_at = $1, retries = $2, updated_at = NOW()
		WHERE id = $3 AND sent_at IS NULL AND failed = FALSE
	`

	result, err := s.db.ExecContext(ctx, query, runAt, retries, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule retry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrMessageCancelled
	}
	return nil
}

// ResolveMessage applies a delivery resolution atomically: the message
// becomes terminal, the job's status and last_run_at reflect the outcome,
// and for a recurring job the next occurrence is inserted in the same
// transaction.
func (s *Store) ResolveMessage(ctx context.Context, res *domain.Resolution) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET sent_at = $1,
			    response_status_code = $2,
			    response_body = $3,
			    failed = $4,
			    updated_at = NOW()
			WHERE id = $5 AND sent_at IS NULL AND failed = FALSE
		`,
			res.SentAt,
			res.ResponseStatusCode,
			res.ResponseBody,
			res.Failed,
			res.MessageID,
		)
		if err != nil {
			return fmt.Errorf("failed to resolve message: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrMessageCancelled
		}

		// next_run_at is only advanced when a next occurrence is being
		// materialized; a noReschedule resolution must not disturb the
		// job's existing scheduled message.
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, last_run_at = $2,
			    next_run_at = COALESCE($3, next_run_at),
			    updated_at = NOW()
			WHERE id = $4 AND deleted_at IS NULL
		`,
			res.JobStatus,
			res.SentAt,
			res.NextRunAt,
			res.JobID,
		)
		if err != nil {
			return fmt.Errorf("failed to update job status: %w", err)
		}

		if res.NextMessage != nil {
			if err := insertMessageTx(ctx, tx, res.NextMessage); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMessageTx(ctx context.Context, tx *sqlx.Tx, msg *domain.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, job_id, headers, body, method, run_at, retries, failed,
			no_reschedule, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11
		)
	`,
		msg.ID,
		msg.JobID,
		msg.Headers,
		msg.Body,
		msg.Method,
		msg.RunAt,
		msg.Retries,
		msg.Failed,
		msg.NoReschedule,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}
