package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

func wattInput() *JobInput {
	return &JobInput{
		CallbackURL: "http://app.example.com/hook",
		Method:      "POST",
		Headers:     `{"X-Token":"abc"}`,
		Body:        `{"kind":"sync"}`,
		Schedule:    strPtr("*/10 * * * *"),
		MaxRetries:  intPtr(3),
	}
}

func TestService_UpsertWattJob(t *testing.T) {
	const appID = "app-42"

	t.Run("creates on first submission", func(t *testing.T) {
		svc, store := newTestService()

		job, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)
		assert.Equal(t, domain.JobTypeWATT, job.JobType)
		require.NotNil(t, job.ApplicationID)
		assert.Equal(t, appID, *job.ApplicationID)
		require.NotNil(t, job.NextRunAt)
		assert.Len(t, pendingMessages(t, store, job.ID), 1)
	})

	t.Run("identical resubmission is a no-op", func(t *testing.T) {
		svc, store := newTestService()

		first, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)
		firstPending := pendingMessages(t, store, first.ID)
		require.Len(t, firstPending, 1)

		second, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "resubmission must keep the job id")
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "no-op upsert must not touch updated_at")

		// The pending occurrence is not replaced either.
		secondPending := pendingMessages(t, store, first.ID)
		require.Len(t, secondPending, 1)
		assert.Equal(t, firstPending[0].ID, secondPending[0].ID)
	})

	t.Run("changed url updates in place", func(t *testing.T) {
		svc, store := newTestService()

		first, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)
		firstPending := pendingMessages(t, store, first.ID)
		require.Len(t, firstPending, 1)

		in := wattInput()
		in.CallbackURL = "http://app.example.com/hook/v2"
		second, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, in)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "http://app.example.com/hook/v2", second.CallbackURL)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

		// Schedule unchanged: the pending occurrence stays where it was.
		secondPending := pendingMessages(t, store, first.ID)
		require.Len(t, secondPending, 1)
		assert.Equal(t, firstPending[0].ID, secondPending[0].ID)
	})

	t.Run("changed schedule replaces the pending occurrence", func(t *testing.T) {
		svc, store := newTestService()

		first, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)
		firstPending := pendingMessages(t, store, first.ID)
		require.Len(t, firstPending, 1)

		in := wattInput()
		in.Schedule = strPtr("0 * * * *")
		second, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, in)
		require.NoError(t, err)

		require.NotNil(t, second.Schedule)
		assert.Equal(t, "0 * * * *", *second.Schedule)
		require.NotNil(t, second.NextRunAt)

		secondPending := pendingMessages(t, store, first.ID)
		require.Len(t, secondPending, 1)
		assert.NotEqual(t, firstPending[0].ID, secondPending[0].ID)
		assert.Equal(t, *second.NextRunAt, secondPending[0].RunAt)
	})

	t.Run("invalid schedule is rejected before any write", func(t *testing.T) {
		svc, _ := newTestService()

		first, err := svc.UpsertWattJob(context.Background(), "sync-hook", appID, wattInput())
		require.NoError(t, err)

		in := wattInput()
		in.Schedule = strPtr("nope")
		_, err = svc.UpsertWattJob(context.Background(), "sync-hook", appID, in)
		assert.True(t, errors.Is(err, domain.ErrInvalidSchedule))

		got, err := svc.GetJob(context.Background(), first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.UpdatedAt, got.UpdatedAt)
	})

	t.Run("same name under another application is a separate job", func(t *testing.T) {
		svc, _ := newTestService()

		first, err := svc.UpsertWattJob(context.Background(), "sync-hook", "app-1", wattInput())
		require.NoError(t, err)
		second, err := svc.UpsertWattJob(context.Background(), "sync-hook", "app-2", wattInput())
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestService_ApplyICCJobs(t *testing.T) {
	specs := []ICCJobSpec{
		{
			Name:       "heartbeat-sweep",
			Schedule:   "*/30 * * * * *",
			URL:        "http://localhost:9000/internal/heartbeat",
			Method:     "POST",
			MaxRetries: 3,
			Enabled:    true,
		},
		{
			Name:     "disabled-job",
			Schedule: "0 * * * *",
			URL:      "http://localhost:9000/internal/disabled",
			Enabled:  false,
		},
	}

	t.Run("enabled jobs are created protected", func(t *testing.T) {
		svc, _ := newTestService()

		require.NoError(t, svc.ApplyICCJobs(context.Background(), specs))

		job, err := svc.GetICCJob(context.Background(), "heartbeat-sweep")
		require.NoError(t, err)
		assert.Equal(t, domain.JobTypeICC, job.JobType)
		assert.True(t, job.Protected)
		assert.Nil(t, job.ApplicationID)
		require.NotNil(t, job.NextRunAt)

		// Protected means undeletable.
		err = svc.DeleteJob(context.Background(), job.ID)
		assert.True(t, errors.Is(err, domain.ErrProtectedJob))
	})

	t.Run("disabled jobs are not registered", func(t *testing.T) {
		svc, _ := newTestService()

		require.NoError(t, svc.ApplyICCJobs(context.Background(), specs))

		_, err := svc.GetICCJob(context.Background(), "disabled-job")
		assert.True(t, errors.Is(err, domain.ErrJobNotFound))
	})

	t.Run("reapplying is idempotent", func(t *testing.T) {
		svc, _ := newTestService()

		require.NoError(t, svc.ApplyICCJobs(context.Background(), specs))
		first, err := svc.GetICCJob(context.Background(), "heartbeat-sweep")
		require.NoError(t, err)

		require.NoError(t, svc.ApplyICCJobs(context.Background(), specs))
		second, err := svc.GetICCJob(context.Background(), "heartbeat-sweep")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	})

	t.Run("paused spec registers without scheduling", func(t *testing.T) {
		svc, store := newTestService()

		require.NoError(t, svc.ApplyICCJobs(context.Background(), []ICCJobSpec{{
			Name:     "paused-sweep",
			Schedule: "0 * * * *",
			URL:      "http://localhost:9000/internal/paused",
			Paused:   true,
			Enabled:  true,
		}}))

		job, err := svc.GetICCJob(context.Background(), "paused-sweep")
		require.NoError(t, err)
		assert.True(t, job.Paused)
		assert.Nil(t, job.NextRunAt)
		assert.Empty(t, pendingMessages(t, store, job.ID))
	})
}

func TestService_UpdateICCJob(t *testing.T) {
	svc, _ := newTestService()

	require.NoError(t, svc.ApplyICCJobs(context.Background(), []ICCJobSpec{{
		Name:       "heartbeat-sweep",
		Schedule:   "*/30 * * * * *",
		URL:        "http://localhost:9000/internal/heartbeat",
		Method:     "POST",
		MaxRetries: 3,
		Enabled:    true,
	}}))

	in := &JobInput{
		CallbackURL: "http://localhost:9000/internal/heartbeat/v2",
		Method:      "POST",
		Schedule:    strPtr("*/30 * * * * *"),
		MaxRetries:  intPtr(3),
	}
	updated, err := svc.UpdateICCJob(context.Background(), "heartbeat-sweep", in)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/internal/heartbeat/v2", updated.CallbackURL)
	assert.True(t, updated.Protected, "internal jobs stay protected through updates")

	// Updated_at reflects roughly now.
	assert.WithinDuration(t, time.Now(), updated.UpdatedAt, time.Minute)
}
