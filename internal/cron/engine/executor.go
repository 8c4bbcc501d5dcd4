package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icclabs/icc-cron/internal/cron/backoff"
	"github.com/icclabs/icc-cron/internal/cron/domain"
	"github.com/icclabs/icc-cron/internal/cron/metrics"
	"github.com/icclabs/icc-cron/internal/cron/schedule"
)

// maxResponseBody caps how much of a callback response is stored per message.
const maxResponseBody = 64 * 1024

// ExecutorConfig holds delivery executor configuration.
type ExecutorConfig struct {
	Store          Store
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Backoff        backoff.Policy
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Executor performs the HTTP callback for one message, classifies the
// outcome, and writes the resulting retry or resolution.
type Executor struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	backoff backoff.Policy
	client  *http.Client
	timeout time.Duration
}

// NewExecutor creates an Executor.
func NewExecutor(cfg *ExecutorConfig) *Executor {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		backoff: cfg.Backoff,
		client:  client,
		timeout: timeout,
	}
}

// Deliver executes one due message end to end. Errors are absorbed into the
// message row and metrics; delivery is asynchronous and has no HTTP caller
// to propagate to.
func (e *Executor) Deliver(ctx context.Context, msg *domain.Message) {
	job, err := e.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Job was deleted after the message became due; its pending
			// messages were cancelled in the same transaction.
			e.logger.Warn("Skipping message for deleted job",
				slog.String("message_id", msg.ID),
				slog.String("job_id", msg.JobID),
			)
			return
		}
		e.logger.Error("Failed to load job for delivery",
			slog.String("message_id", msg.ID),
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := e.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusStarting); err != nil {
		e.logger.Warn("Failed to mark job starting",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	start := time.Now()
	statusCode, responseBody, callErr := e.call(ctx, msg, job)
	elapsed := time.Since(start)

	appLabel := ""
	if job.ApplicationID != nil {
		appLabel = *job.ApplicationID
	}

	if callErr == nil && statusCode < http.StatusBadRequest {
		e.resolve(ctx, msg, job, &domain.Resolution{
			MessageID:          msg.ID,
			JobID:              job.ID,
			SentAt:             time.Now(),
			ResponseStatusCode: &statusCode,
			ResponseBody:       &responseBody,
			Failed:             false,
			JobStatus:          domain.JobStatusSuccess,
		})
		e.metrics.MessageSent(appLabel, job.ID, elapsed.Seconds())
		e.logger.Info("Message delivered",
			slog.String("message_id", msg.ID),
			slog.String("job_id", job.ID),
			slog.Int("status_code", statusCode),
			slog.Duration("execution_time", elapsed),
		)
		return
	}

	if callErr != nil {
		e.logger.Warn("Delivery transport error",
			slog.String("message_id", msg.ID),
			slog.String("job_id", job.ID),
			slog.Any("error", callErr),
		)
	}

	if msg.Retries < job.MaxRetries {
		e.retry(ctx, msg, job, appLabel)
		return
	}

	// Retries exhausted: the message becomes terminal.
	res := &domain.Resolution{
		MessageID: msg.ID,
		JobID:     job.ID,
		SentAt:    time.Now(),
		Failed:    true,
		JobStatus: domain.JobStatusFailed,
	}
	if callErr == nil {
		res.ResponseStatusCode = &statusCode
		res.ResponseBody = &responseBody
	}
	e.resolve(ctx, msg, job, res)
	e.metrics.MessageFailed(appLabel, job.ID, elapsed.Seconds())
	e.logger.Error("Message failed permanently",
		slog.String("message_id", msg.ID),
		slog.String("job_id", job.ID),
		slog.Int("retries", msg.Retries),
		slog.Int("max_retries", job.MaxRetries),
	)
}

// call performs the HTTP request described by the message and its job.
// Exceeding the request timeout is treated identically to an error response.
func (e *Executor) call(ctx context.Context, msg *domain.Message, job *domain.Job) (int, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body io.Reader
	if b := msg.EffectiveBody(job); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(reqCtx, msg.EffectiveMethod(job), job.CallbackURL, body)
	if err != nil {
		return 0, "", domain.NewDeliveryError(fmt.Errorf("failed to build request: %w", err))
	}

	if headers := msg.EffectiveHeaders(job); headers != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(headers), &parsed); err != nil {
			e.logger.Warn("Ignoring malformed headers",
				slog.String("message_id", msg.ID),
				slog.Any("error", err),
			)
		} else {
			for k, v := range parsed {
				req.Header.Set(k, v)
			}
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", domain.NewDeliveryError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", domain.NewDeliveryError(fmt.Errorf("failed to read response: %w", err))
	}

	return resp.StatusCode, string(respBody), nil
}

// retry schedules the next attempt on the same message row.
func (e *Executor) retry(ctx context.Context, msg *domain.Message, job *domain.Job, appLabel string) {
	attempt := msg.Retries + 1
	runAt := time.Now().Add(e.backoff.Delay(attempt))

	if err := e.store.RescheduleRetry(ctx, msg.ID, runAt, attempt); err != nil {
		if errors.Is(err, domain.ErrMessageCancelled) {
			// Cancelled while this delivery was in flight; do not resurrect.
			e.logger.Info("Retry skipped, message cancelled",
				slog.String("message_id", msg.ID),
				slog.String("job_id", job.ID),
			)
			return
		}
		e.logger.Error("Failed to reschedule retry",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
		return
	}

	e.metrics.MessageRetried(appLabel, job.ID)
	e.logger.Info("Message retry scheduled",
		slog.String("message_id", msg.ID),
		slog.String("job_id", job.ID),
		slog.Int("attempt", attempt),
		slog.Time("run_at", runAt),
	)
}

// resolve writes the terminal outcome, materializing the next periodic
// occurrence when the job is recurring, active, and the message was not an
// ad-hoc run-now delivery.
func (e *Executor) resolve(ctx context.Context, msg *domain.Message, job *domain.Job, res *domain.Resolution) {
	if !msg.NoReschedule && job.Schedulable() {
		next, err := schedule.Next(*job.Schedule, time.Now())
		if err != nil {
			// The schedule was validated on write; log and resolve without
			// a next occurrence rather than crash the loop.
			e.logger.Error("Failed to compute next fire time",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		} else {
			now := time.Now()
			res.NextMessage = &domain.Message{
				ID:        uuid.New().String(),
				JobID:     job.ID,
				RunAt:     next,
				CreatedAt: now,
				UpdatedAt: now,
			}
			res.NextRunAt = &next
		}
	}

	if err := e.store.ResolveMessage(ctx, res); err != nil {
		if errors.Is(err, domain.ErrMessageCancelled) {
			e.logger.Info("Resolution skipped, message cancelled",
				slog.String("message_id", msg.ID),
			)
			return
		}
		e.logger.Error("Failed to resolve message",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}
}
