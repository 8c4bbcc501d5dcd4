package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

var messageCols = []string{
	"id", "job_id", "headers", "body", "method", "run_at", "sent_at",
	"response_status_code", "response_body", "retries", "failed",
	"no_reschedule", "created_at", "updated_at",
}

var jobCols = []string{
	"id", "name", "application_id", "job_type", "callback_url", "method",
	"headers", "body", "schedule", "max_retries", "protected", "paused",
	"status", "last_run_at", "next_run_at", "deleted_at", "created_at",
	"updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStoreFromDB(
		sqlx.NewDb(db, "sqlmock"),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return store, mock
}

func messageRow(id, jobID string, runAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(messageCols).
		AddRow(id, jobID, nil, nil, nil, runAt, nil, nil, nil, 0, false, false, runAt, runAt)
}

func TestStore_FindDueMessages(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := messageRow("m1", "j1", now.Add(-2*time.Minute)).
		AddRow("m2", "j1", nil, nil, nil, now.Add(-time.Minute), nil, nil, nil, 0, false, false, now, now)

	mock.ExpectQuery(`(?s)SELECT .+ FROM messages\s+WHERE sent_at IS NULL AND failed = FALSE AND run_at <= \$1\s+ORDER BY run_at ASC\s+LIMIT \$2`).
		WithArgs(now, 100).
		WillReturnRows(rows)

	msgs, err := store.FindDueMessages(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetJob(t *testing.T) {
	t.Run("filters deleted rows in the query", func(t *testing.T) {
		store, mock := newMockStore(t)

		now := time.Now()
		rows := sqlmock.NewRows(jobCols).AddRow(
			"j1", "poller", nil, domain.JobTypeWATT, "http://example.com/cb",
			"GET", "", "", "*/5 * * * *", 3, false, false, domain.JobStatusNew,
			nil, nil, nil, now, now,
		)

		mock.ExpectQuery(`(?s)SELECT .+ FROM jobs WHERE id = \$1 AND deleted_at IS NULL`).
			WithArgs("j1").
			WillReturnRows(rows)

		job, err := store.GetJob(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, "poller", job.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows maps to ErrJobNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`(?s)SELECT .+ FROM jobs WHERE id = \$1 AND deleted_at IS NULL`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(jobCols))

		_, err := store.GetJob(context.Background(), "missing")
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_DeleteJob(t *testing.T) {
	t.Run("protected job rolls back untouched", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT protected FROM jobs WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs("j1").
			WillReturnRows(sqlmock.NewRows([]string{"protected"}).AddRow(true))
		mock.ExpectRollback()

		err := store.DeleteJob(context.Background(), "j1")
		assert.True(t, errors.Is(err, domain.ErrProtectedJob))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("soft delete cancels pending messages in one transaction", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT protected FROM jobs WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs("j1").
			WillReturnRows(sqlmock.NewRows([]string{"protected"}).AddRow(false))
		mock.ExpectExec(`UPDATE jobs\s+SET deleted_at = NOW\(\), next_run_at = NULL, updated_at = NOW\(\)\s+WHERE id = \$1`).
			WithArgs("j1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE messages\s+SET failed = TRUE, updated_at = NOW\(\)\s+WHERE job_id = \$1 AND sent_at IS NULL AND failed = FALSE`).
			WithArgs("j1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteJob(context.Background(), "j1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job maps to ErrJobNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT protected FROM jobs WHERE id = \$1 AND deleted_at IS NULL FOR UPDATE`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"protected"}))
		mock.ExpectRollback()

		err := store.DeleteJob(context.Background(), "missing")
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_CancelMessage(t *testing.T) {
	t.Run("pending message is marked failed", func(t *testing.T) {
		store, mock := newMockStore(t)

		now := time.Now()
		returned := sqlmock.NewRows(messageCols).
			AddRow("m1", "j1", nil, nil, nil, now, nil, nil, nil, 0, true, false, now, now)

		mock.ExpectQuery(`(?s)UPDATE messages\s+SET failed = TRUE, updated_at = NOW\(\)\s+WHERE id = \$1 AND sent_at IS NULL\s+RETURNING`).
			WithArgs("m1").
			WillReturnRows(returned)

		msg, err := store.CancelMessage(context.Background(), "m1")
		require.NoError(t, err)
		assert.True(t, msg.Failed)
		assert.Nil(t, msg.SentAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already resolved maps to ErrMessageCancelled", func(t *testing.T) {
		store, mock := newMockStore(t)

		now := time.Now()
		mock.ExpectQuery(`(?s)UPDATE messages\s+SET failed = TRUE, updated_at = NOW\(\)\s+WHERE id = \$1 AND sent_at IS NULL\s+RETURNING`).
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows(messageCols))
		mock.ExpectQuery(`(?s)SELECT .+ FROM messages WHERE id = \$1`).
			WithArgs("m1").
			WillReturnRows(sqlmock.NewRows(messageCols).
				AddRow("m1", "j1", nil, nil, nil, now, now, 200, "", 0, false, false, now, now))

		_, err := store.CancelMessage(context.Background(), "m1")
		assert.True(t, errors.Is(err, domain.ErrMessageCancelled))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown message maps to ErrMessageNotFound", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`(?s)UPDATE messages\s+SET failed = TRUE, updated_at = NOW\(\)\s+WHERE id = \$1 AND sent_at IS NULL\s+RETURNING`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(messageCols))
		mock.ExpectQuery(`(?s)SELECT .+ FROM messages WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(messageCols))

		_, err := store.CancelMessage(context.Background(), "missing")
		assert.True(t, errors.Is(err, domain.ErrMessageNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_RescheduleRetry(t *testing.T) {
	t.Run("pending message is moved", func(t *testing.T) {
		store, mock := newMockStore(t)

		runAt := time.Now().Add(time.Second)
		mock.ExpectExec(`UPDATE messages\s+SET run_at = \$1, retries = \$2, updated_at = NOW\(\)\s+WHERE id = \$3 AND sent_at IS NULL AND failed = FALSE`).
			WithArgs(runAt, 1, "m1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RescheduleRetry(context.Background(), "m1", runAt, 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled mid-flight is not resurrected", func(t *testing.T) {
		store, mock := newMockStore(t)

		runAt := time.Now().Add(time.Second)
		mock.ExpectExec(`UPDATE messages\s+SET run_at = \$1, retries = \$2, updated_at = NOW\(\)\s+WHERE id = \$3 AND sent_at IS NULL AND failed = FALSE`).
			WithArgs(runAt, 1, "m1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.RescheduleRetry(context.Background(), "m1", runAt, 1)
		assert.True(t, errors.Is(err, domain.ErrMessageCancelled))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ResolveMessage(t *testing.T) {
	status := 200
	body := "ok"

	t.Run("success with next occurrence", func(t *testing.T) {
		store, mock := newMockStore(t)

		sentAt := time.Now()
		next := sentAt.Add(5 * time.Minute)
		res := &domain.Resolution{
			MessageID:          "m1",
			JobID:              "j1",
			SentAt:             sentAt,
			ResponseStatusCode: &status,
			ResponseBody:       &body,
			JobStatus:          domain.JobStatusSuccess,
			NextRunAt:          &next,
			NextMessage: &domain.Message{
				ID:        "m2",
				JobID:     "j1",
				RunAt:     next,
				CreatedAt: sentAt,
				UpdatedAt: sentAt,
			},
		}

		mock.ExpectBegin()
		mock.ExpectExec(`(?s)UPDATE messages\s+SET sent_at = \$1,.+WHERE id = \$5 AND sent_at IS NULL AND failed = FALSE`).
			WithArgs(sentAt, &status, &body, false, "m1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE jobs\s+SET status = \$1, last_run_at = \$2,\s+next_run_at = COALESCE\(\$3, next_run_at\),\s+updated_at = NOW\(\)\s+WHERE id = \$4 AND deleted_at IS NULL`).
			WithArgs(domain.JobStatusSuccess, sentAt, &next, "j1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO messages`).
			WithArgs("m2", "j1", nil, nil, nil, next, 0, false, false, sentAt, sentAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.ResolveMessage(context.Background(), res))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled message aborts the transaction", func(t *testing.T) {
		store, mock := newMockStore(t)

		sentAt := time.Now()
		res := &domain.Resolution{
			MessageID: "m1",
			JobID:     "j1",
			SentAt:    sentAt,
			Failed:    true,
			JobStatus: domain.JobStatusFailed,
		}

		mock.ExpectBegin()
		mock.ExpectExec(`(?s)UPDATE messages\s+SET sent_at = \$1,.+WHERE id = \$5 AND sent_at IS NULL AND failed = FALSE`).
			WithArgs(sentAt, nil, nil, true, "m1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.ResolveMessage(context.Background(), res)
		assert.True(t, errors.Is(err, domain.ErrMessageCancelled))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_UpdateJobDefinition(t *testing.T) {
	store, mock := newMockStore(t)

	job := &domain.Job{
		ID:          "missing",
		CallbackURL: "http://example.com/cb",
		Method:      "GET",
		MaxRetries:  3,
	}

	mock.ExpectExec(`UPDATE jobs\s+SET callback_url = \$1,`).
		WithArgs(job.CallbackURL, job.Method, job.Headers, job.Body, job.Schedule, job.MaxRetries, job.NextRunAt, job.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateJobDefinition(context.Background(), job)
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListJobs_QueryShape(t *testing.T) {
	store, mock := newMockStore(t)

	cursorAt := time.Now()
	filter := JobFilter{
		JobType:       domain.JobTypeWATT,
		ApplicationID: "app-1",
		PageSize:      20,
		Cursor:        &JobCursor{CreatedAt: cursorAt, JobID: "j9"},
	}

	expected := regexp.QuoteMeta(
		`AND job_type = $1 AND application_id = $2 AND (created_at, id) < ($3, $4) ORDER BY created_at DESC, id DESC LIMIT $5`,
	)
	mock.ExpectQuery(expected).
		WithArgs(domain.JobTypeWATT, "app-1", cursorAt, "j9", 21).
		WillReturnRows(sqlmock.NewRows(jobCols))

	jobs, err := store.ListJobs(context.Background(), filter)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
