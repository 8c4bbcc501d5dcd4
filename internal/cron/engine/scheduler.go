package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icclabs/icc-cron/internal/cron/domain"
)

// SchedulerConfig holds scheduler loop configuration.
type SchedulerConfig struct {
	Store        Store
	Executor     *Executor
	Logger       *slog.Logger
	PollInterval time.Duration
	DueLimit     int
	Concurrency  int
}

// Scheduler polls for due messages and dispatches them to a bounded pool of
// delivery workers. Messages for the same job are deliberately not
// serialized; the job's status reflects whichever resolution lands last.
type Scheduler struct {
	store        Store
	executor     *Executor
	logger       *slog.Logger
	pollInterval time.Duration
	dueLimit     int
	concurrency  int

	// inFlight tracks message ids currently dispatched so consecutive polls
	// do not deliver the same row twice.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	deliveries chan domain.Message
	wake       chan struct{}
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	dueLimit := cfg.DueLimit
	if dueLimit <= 0 {
		dueLimit = 100
	}
	concurrency := cfg.Concurrency
	if concurrency < 2 {
		// Two due messages for the same job must be deliverable concurrently.
		concurrency = 2
	}
	return &Scheduler{
		store:        cfg.Store,
		executor:     cfg.Executor,
		logger:       cfg.Logger,
		pollInterval: pollInterval,
		dueLimit:     dueLimit,
		concurrency:  concurrency,
		inFlight:     make(map[string]struct{}),
		deliveries:   make(chan domain.Message),
		wake:         make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
}

// Start spawns the delivery workers and the polling loop, then blocks until
// the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.Duration("poll_interval", s.pollInterval),
		slog.Int("concurrency", s.concurrency),
		slog.Int("due_limit", s.dueLimit),
	)

	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.deliveryWorker(ctx, i)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("Scheduler stopping - stop requested")
			return nil
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping - context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		case <-s.wake:
			s.poll(ctx)
		}
	}
}

// Stop shuts the scheduler down and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Wake triggers an immediate poll, used when the control plane knows a
// message just became due (run-now, resume). Coalesces when one is already
// queued.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// poll fetches due messages and hands each to the worker pool, earliest
// first.
func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.FindDueMessages(ctx, time.Now(), s.dueLimit)
	if err != nil {
		s.logger.Error("Failed to find due messages",
			slog.Any("error", err),
		)
		return
	}

	for i := range due {
		msg := due[i]
		if !s.markInFlight(msg.ID) {
			continue
		}

		select {
		case s.deliveries <- msg:
		case <-s.stopChan:
			s.clearInFlight(msg.ID)
			return
		case <-ctx.Done():
			s.clearInFlight(msg.ID)
			return
		}
	}
}

// deliveryWorker consumes dispatched messages. A panicking delivery is
// isolated: it cannot take the loop down for other jobs.
func (s *Scheduler) deliveryWorker(ctx context.Context, workerNum int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case msg := <-s.deliveries:
			s.deliverSafely(ctx, &msg, workerNum)
		}
	}
}

func (s *Scheduler) deliverSafely(ctx context.Context, msg *domain.Message, workerNum int) {
	defer s.clearInFlight(msg.ID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Delivery panicked",
				slog.String("message_id", msg.ID),
				slog.String("job_id", msg.JobID),
				slog.Int("worker_num", workerNum),
				slog.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()

	s.executor.Deliver(ctx, msg)
}

func (s *Scheduler) markInFlight(id string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(id string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, id)
}
