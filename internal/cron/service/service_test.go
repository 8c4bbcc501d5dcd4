package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func newTestService() (*Service, *storage.MemStore) {
	store := storage.NewMemStore()
	return New(store, testLogger(), nil), store
}

func pendingMessages(t *testing.T, store *storage.MemStore, jobID string) []domain.Message {
	t.Helper()
	all, err := store.ListMessagesByJob(context.Background(), jobID)
	require.NoError(t, err)
	var pending []domain.Message
	for _, m := range all {
		if m.Pending() {
			pending = append(pending, m)
		}
	}
	return pending
}

func TestService_SaveJob(t *testing.T) {
	t.Run("recurring job gets a first message", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "poller",
			JobType:     domain.JobTypeWATT,
			CallbackURL: "http://example.com/cb",
			Schedule:    strPtr("*/5 * * * *"),
		})
		require.NoError(t, err)
		require.NotNil(t, job.NextRunAt)
		assert.True(t, job.NextRunAt.After(time.Now()))
		assert.Equal(t, domain.JobStatusNew, job.Status)
		assert.Equal(t, "GET", job.Method, "method defaults to GET")
		assert.Equal(t, domain.DefaultMaxRetries, job.MaxRetries)

		pending := pendingMessages(t, store, job.ID)
		require.Len(t, pending, 1)
		assert.Equal(t, *job.NextRunAt, pending[0].RunAt)
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		svc, _ := newTestService()

		_, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "broken",
			CallbackURL: "http://example.com/cb",
			Schedule:    strPtr("not a cron"),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidSchedule))
	})

	t.Run("paused job schedules nothing", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "paused",
			CallbackURL: "http://example.com/cb",
			Schedule:    strPtr("*/5 * * * *"),
			Paused:      true,
		})
		require.NoError(t, err)
		assert.Nil(t, job.NextRunAt)
		assert.Empty(t, pendingMessages(t, store, job.ID))
	})

	t.Run("one-shot job schedules nothing", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "one-shot",
			CallbackURL: "http://example.com/cb",
		})
		require.NoError(t, err)
		assert.Nil(t, job.NextRunAt)
		assert.Empty(t, pendingMessages(t, store, job.ID))
	})

	t.Run("explicit max retries wins over default", func(t *testing.T) {
		svc, _ := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "custom-retries",
			CallbackURL: "http://example.com/cb",
			MaxRetries:  intPtr(7),
		})
		require.NoError(t, err)
		assert.Equal(t, 7, job.MaxRetries)
	})
}

func TestService_PauseResume(t *testing.T) {
	svc, store := newTestService()

	job, err := svc.SaveJob(context.Background(), &JobInput{
		Name:        "pausable",
		CallbackURL: "http://example.com/cb",
		Schedule:    strPtr("*/5 * * * *"),
	})
	require.NoError(t, err)
	require.Len(t, pendingMessages(t, store, job.ID), 1)

	paused, err := svc.PauseJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.Nil(t, paused.NextRunAt)
	assert.Empty(t, pendingMessages(t, store, job.ID), "pause must cancel the pending occurrence")

	resumed, err := svc.ResumeJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	require.NotNil(t, resumed.NextRunAt)
	assert.True(t, resumed.NextRunAt.After(time.Now()), "resume recomputes the next fire time from now")

	pending := pendingMessages(t, store, job.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, *resumed.NextRunAt, pending[0].RunAt)
}

func TestService_ResumeOneShotJob(t *testing.T) {
	svc, store := newTestService()

	job, err := svc.SaveJob(context.Background(), &JobInput{
		Name:        "one-shot",
		CallbackURL: "http://example.com/cb",
	})
	require.NoError(t, err)

	_, err = svc.PauseJob(context.Background(), job.ID)
	require.NoError(t, err)

	resumed, err := svc.ResumeJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.Nil(t, resumed.NextRunAt)
	assert.Empty(t, pendingMessages(t, store, job.ID))
}

func TestService_RunNow(t *testing.T) {
	svc, store := newTestService()

	job, err := svc.SaveJob(context.Background(), &JobInput{
		Name:        "runnable",
		CallbackURL: "http://example.com/cb",
		Schedule:    strPtr("0 0 * * *"),
	})
	require.NoError(t, err)
	scheduled := pendingMessages(t, store, job.ID)
	require.Len(t, scheduled, 1)

	msg, err := svc.RunNow(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, msg.NoReschedule)
	assert.False(t, msg.RunAt.After(time.Now()))

	// Both the ad-hoc and the scheduled message are pending now.
	pending := pendingMessages(t, store, job.ID)
	assert.Len(t, pending, 2)

	// The scheduled occurrence is untouched.
	still, err := store.GetMessage(context.Background(), scheduled[0].ID)
	require.NoError(t, err)
	assert.Equal(t, scheduled[0].RunAt, still.RunAt)

	t.Run("unknown job", func(t *testing.T) {
		_, err := svc.RunNow(context.Background(), "11111111-1111-1111-1111-111111111111")
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	})
}

func TestService_DeleteJob(t *testing.T) {
	t.Run("delete cancels pending messages", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "deletable",
			CallbackURL: "http://example.com/cb",
			Schedule:    strPtr("*/5 * * * *"),
		})
		require.NoError(t, err)

		require.NoError(t, svc.DeleteJob(context.Background(), job.ID))

		_, err = svc.GetJob(context.Background(), job.ID)
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
		assert.Empty(t, pendingMessages(t, store, job.ID))

		// Message history survives the delete.
		history, err := store.ListMessagesByJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, history)
	})

	t.Run("protected job cannot be deleted", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.SaveJob(context.Background(), &JobInput{
			Name:        "protected",
			CallbackURL: "http://example.com/cb",
			Schedule:    strPtr("*/5 * * * *"),
			Protected:   true,
		})
		require.NoError(t, err)

		err = svc.DeleteJob(context.Background(), job.ID)
		assert.True(t, errors.Is(err, domain.ErrProtectedJob))

		// Untouched: still retrievable, still scheduled.
		got, err := svc.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.NextRunAt)
		assert.Len(t, pendingMessages(t, store, job.ID), 1)
	})
}

func TestService_Messages(t *testing.T) {
	svc, store := newTestService()

	job, err := svc.SaveJob(context.Background(), &JobInput{
		Name:        "msg-target",
		CallbackURL: "http://example.com/cb",
	})
	require.NoError(t, err)

	t.Run("save message defaults to now", func(t *testing.T) {
		before := time.Now()
		msg, err := svc.SaveMessage(context.Background(), &MessageInput{JobID: job.ID})
		require.NoError(t, err)
		assert.False(t, msg.RunAt.Before(before))
		assert.False(t, msg.RunAt.After(time.Now()))
	})

	t.Run("save message for unknown job", func(t *testing.T) {
		_, err := svc.SaveMessage(context.Background(), &MessageInput{
			JobID: "22222222-2222-2222-2222-222222222222",
		})
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	})

	t.Run("bulk insert", func(t *testing.T) {
		when := time.Now().Add(time.Hour)
		msgs, err := svc.InsertMessages(context.Background(), []*MessageInput{
			{JobID: job.ID, RunAt: &when},
			{JobID: job.ID, Body: strPtr("payload")},
		})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, when, msgs[0].RunAt)
		require.NotNil(t, msgs[1].Body)
		assert.Equal(t, "payload", *msgs[1].Body)
	})

	t.Run("bulk insert rejects unknown job without writing", func(t *testing.T) {
		before, err := store.ListMessagesByJob(context.Background(), job.ID)
		require.NoError(t, err)

		_, err = svc.InsertMessages(context.Background(), []*MessageInput{
			{JobID: job.ID},
			{JobID: "33333333-3333-3333-3333-333333333333"},
		})
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))

		after, err := store.ListMessagesByJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("cancel pending message", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		msg, err := svc.SaveMessage(context.Background(), &MessageInput{JobID: job.ID, RunAt: &future})
		require.NoError(t, err)

		cancelled, err := svc.CancelMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.True(t, cancelled.Failed)
		assert.Nil(t, cancelled.SentAt)
	})

	t.Run("cancel unknown message", func(t *testing.T) {
		_, err := svc.CancelMessage(context.Background(), "44444444-4444-4444-4444-444444444444")
		assert.True(t, errors.Is(err, domain.ErrMessageNotFound))
	})
}

func TestService_WakeNotification(t *testing.T) {
	store := storage.NewMemStore()
	var wakes int
	svc := New(store, testLogger(), func() { wakes++ })

	job, err := svc.SaveJob(context.Background(), &JobInput{
		Name:        "waker",
		CallbackURL: "http://example.com/cb",
		Schedule:    strPtr("*/5 * * * *"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, wakes)

	_, err = svc.RunNow(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, wakes)
}
