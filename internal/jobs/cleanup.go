package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/storage"
)

const resultMaxAge = 7 * 24 * time.Hour

// Janitor sweeps on the given interval: idle sessions out of the registry,
// stale temp files out of the work dir, expired result directories off disk,
// and queue depths into the gauges. Blocks until ctx is done.
func (r *Runner) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if n := r.deps.Sessions.Evict(); n > 0 {
		log.Info().Int("sessions", n).Msg("evicted idle sessions")
	}
	metrics.SetSessions(r.deps.Sessions.Len())

	storage.CleanupTemps(r.cfg.WorkDir, time.Hour)
	pruneResults(r.cfg.ResultDir, resultMaxAge)

	if r.deps.Queue != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ready, delayed, dlq, err := r.deps.Queue.Depths(cctx)
		cancel()
		if err == nil {
			metrics.SetQueueDepth("ready", ready)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}

// pruneResults removes per-job result directories older than maxAge. The
// Redis records expire on their own TTL; this keeps disk in step.
func pruneResults(dir string, maxAge time.Duration) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("dir", e.Name()).Msg("result prune failed")
		}
	}
}
