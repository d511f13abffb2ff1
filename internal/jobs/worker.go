package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/metrics"
)

// ConsumerQueue is the consuming side of the job queue.
type ConsumerQueue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
}

// WorkerConfig tunes the consuming pool.
type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
	// MaxAttempts bounds total runs of one job, the first included.
	MaxAttempts int
	// RetryDelay is the first retry's delay; it doubles per attempt.
	RetryDelay time.Duration
}

// Worker pulls compose jobs off the queue and hands them to the runner.
type Worker struct {
	cfg    WorkerConfig
	queue  ConsumerQueue
	runner *Runner

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewWorker(cfg WorkerConfig, q ConsumerQueue, runner *Runner) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &Worker{cfg: cfg, queue: q, runner: runner, stop: make(chan struct{})}
}

// Start launches the consumer goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(fmt.Sprintf("worker-%d", i))
	}
	log.Info().Int("concurrency", w.cfg.Concurrency).Msg("compose workers started")
}

// Stop signals the pool and waits for in-flight jobs, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(consumer string) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			log.Info().Str("consumer", consumer).Msg("compose worker stopped")
			return
		default:
		}

		_, data, err := w.queue.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Str("consumer", consumer).Msg("dequeue failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}
		w.handle(consumer, data)
	}
}

func (w *Worker) handle(consumer string, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("consumer", consumer).Msg("malformed job payload")
		_ = w.queue.AddDLQ(context.Background(), data, "unmarshal: "+err.Error())
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	logger := log.With().Str("job_id", req.JobID).Str("consumer", consumer).Logger()

	if cancelled, _ := w.queue.IsCancelled(context.Background(), req.JobID); cancelled {
		logger.Warn().Msg("job cancelled before start, skipping")
		return
	}
	if req.IdempotencyKey != "" {
		if done, _ := w.queue.IsIdemDone(context.Background(), req.IdempotencyKey); done {
			logger.Info().Str("idempotency_key", req.IdempotencyKey).Msg("duplicate job, skipping")
			return
		}
	}

	logger.Info().Int("sources", len(req.Sources)).Int("attempt", req.Attempt+1).Msg("job started")
	metrics.JobStarted()
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	err := w.runner.Run(ctx, req)
	cancel()
	metrics.JobFinished()
	if err != nil {
		logger.Warn().Err(err).Msg("job ended with error")
		if w.retry(logger, req, err) {
			// The idempotency key stays unburnt so the redelivery runs.
			return
		}
	}

	if req.IdempotencyKey != "" {
		_ = w.queue.MarkIdemDone(context.Background(), req.IdempotencyKey, 24*time.Hour)
	}
}

// retry schedules another run of a failed job on the delayed queue, with the
// delay doubling per attempt. Configuration errors never retry; a job out of
// attempts goes to the DLQ instead. Reports whether a retry was scheduled.
func (w *Worker) retry(logger zerolog.Logger, req Request, runErr error) bool {
	var cfgErr *layout.ConfigError
	if errors.As(runErr, &cfgErr) || errors.Is(runErr, context.DeadlineExceeded) {
		return false
	}
	if req.Attempt+1 >= w.cfg.MaxAttempts {
		payload, _ := json.Marshal(req)
		_ = w.queue.AddDLQ(context.Background(), payload, runErr.Error())
		logger.Warn().Int("attempts", req.Attempt+1).Msg("job out of attempts, sent to DLQ")
		return false
	}

	req.Attempt++
	delay := w.cfg.RetryDelay << (req.Attempt - 1)
	payload, err := json.Marshal(req)
	if err != nil {
		return false
	}
	if err := w.queue.EnqueueDelayed(context.Background(), payload, time.Now().Add(delay)); err != nil {
		logger.Error().Err(err).Msg("retry enqueue failed")
		return false
	}
	w.runner.setStatus(req.JobID, Status{
		Status:   "queued",
		Progress: 0,
		Message:  fmt.Sprintf("retrying, attempt %d of %d", req.Attempt+1, w.cfg.MaxAttempts),
	})
	logger.Info().Int("attempt", req.Attempt+1).Dur("delay", delay).Msg("job scheduled for retry")
	return true
}
