package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerDefaults(t *testing.T) {
	w := NewWorker(WorkerConfig{}, newFakeQueue(), nil)
	require.Equal(t, 2, w.cfg.Concurrency)
	require.Equal(t, 10*time.Minute, w.cfg.JobTimeout)
	require.Equal(t, 3, w.cfg.MaxAttempts)
	require.Equal(t, 30*time.Second, w.cfg.RetryDelay)
}

func TestWorkerHandleMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute}, env.queue, env.runner)

	w.handle("worker-0", []byte("{not json"))

	require.Len(t, env.queue.dlq, 1)
	require.Contains(t, env.queue.dlq[0], "unmarshal:")
	require.Empty(t, env.status.records)
}

func TestWorkerHandleCancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	env.queue.cancelled["j1"] = true
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1"}`))

	require.Zero(t, env.status.count("j1"))
}

func TestWorkerHandleDuplicateSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.queue.idemDone["job:j1"] = true
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1","idempotency_key":"job:j1"}`))

	require.Zero(t, env.status.count("j1"))
	require.Empty(t, env.queue.marked)
}

func TestWorkerHandleRunsJobAndMarksDone(t *testing.T) {
	env := newTestEnv(t)
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1","session_id":"s","idempotency_key":"job:j1"}`))

	st := env.status.last(t, "j1")
	require.Equal(t, "success", st.Status)
	require.Equal(t, []string{"job:j1"}, env.queue.marked)
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail["s3://b/gone.pdf"] = errors.New("connection refused")
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute, MaxAttempts: 3, RetryDelay: time.Second}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1","session_id":"s","idempotency_key":"job:j1","sources":[{"ref":"s3://b/gone.pdf"}]}`))

	require.Len(t, env.queue.delayed, 1)
	require.Empty(t, env.queue.dlq)
	// The key is only burnt on a terminal outcome.
	require.Empty(t, env.queue.marked)

	var rq Request
	require.NoError(t, json.Unmarshal(env.queue.delayed[0], &rq))
	require.Equal(t, "j1", rq.JobID)
	require.Equal(t, 1, rq.Attempt)

	st := env.status.last(t, "j1")
	require.Equal(t, "queued", st.Status)
	require.Contains(t, st.Message, "attempt 2 of 3")
}

func TestWorkerExhaustedJobGoesToDLQ(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail["s3://b/gone.pdf"] = errors.New("connection refused")
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute, MaxAttempts: 3, RetryDelay: time.Second}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1","session_id":"s","idempotency_key":"job:j1","attempt":2,"sources":[{"ref":"s3://b/gone.pdf"}]}`))

	require.Empty(t, env.queue.delayed)
	require.Len(t, env.queue.dlq, 1)
	require.Contains(t, env.queue.dlq[0], "no pages ingested")
	require.Equal(t, []string{"job:j1"}, env.queue.marked)
	require.Equal(t, "failed", env.status.last(t, "j1").Status)
}

func TestWorkerConfigErrorNotRetried(t *testing.T) {
	env := newTestEnv(t)
	w := NewWorker(WorkerConfig{JobTimeout: time.Minute, MaxAttempts: 3, RetryDelay: time.Second}, env.queue, env.runner)

	w.handle("worker-0", []byte(`{"job_id":"j1","idempotency_key":"job:j1","layout":{"paper":"a9"}}`))

	require.Empty(t, env.queue.delayed)
	require.Empty(t, env.queue.dlq)
	require.Equal(t, []string{"job:j1"}, env.queue.marked)
	require.Equal(t, "failed", env.status.last(t, "j1").Status)
}

func TestWorkerStartStop(t *testing.T) {
	env := newTestEnv(t)
	w := NewWorker(WorkerConfig{Concurrency: 2, JobTimeout: time.Minute}, env.queue, env.runner)

	w.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}
