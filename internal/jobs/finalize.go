package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/compose"
	"github.com/local/sheetpack/internal/ingest"
	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/storage"
)

// finalize turns a finished batch into results: manifest, rendered sheets,
// optional upload, and the terminal status record.
func (r *Runner) finalize(jobID string, sess *Session, req Request, rep *ingest.Report) error {
	logger := log.With().Str("job_id", jobID).Str("session_id", sess.ID).Logger()

	manifest, err := sess.Manifest()
	if err != nil {
		logger.Error().Err(err).Msg("manifest build failed")
		r.failJob(jobID, fmt.Sprintf("manifest: %v", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var sheetPaths []string
	if !req.ManifestOnly && manifest.SheetCount > 0 {
		r.setStatus(jobID, Status{Status: "running", Progress: 90, Message: "composing sheets"})
		sheetPaths, err = r.renderSheets(ctx, jobID, sess, manifest)
		if err != nil {
			logger.Error().Err(err).Msg("sheet composition failed")
			r.failJob(jobID, fmt.Sprintf("compose: %v", err))
			return err
		}
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		r.failJob(jobID, fmt.Sprintf("manifest: %v", err))
		return err
	}
	if err := r.deps.Results.SaveManifest(ctx, jobID, data); err != nil {
		logger.Warn().Err(err).Msg("manifest save failed")
	}

	meta := map[string]interface{}{
		"session_id":    sess.ID,
		"batch_token":   rep.BatchToken,
		"pages_total":   rep.PagesTotal,
		"pages_done":    rep.PagesDone,
		"pages_failed":  rep.PagesFailed,
		"files_skipped": len(rep.FilesSkipped),
		"page_count":    manifest.PageCount,
		"sheet_count":   manifest.SheetCount,
	}
	if len(rep.FilesSkipped) > 0 {
		reasons := make([]string, 0, len(rep.FilesSkipped))
		for _, f := range rep.FilesSkipped {
			reasons = append(reasons, fmt.Sprintf("%s: %s", f.Path, f.Reason))
		}
		meta["skip_reasons"] = reasons
	}

	if req.Publish && r.cfg.Upload.Bucket != "" {
		url, err := r.publishResult(ctx, jobID, data, sheetPaths)
		if err != nil {
			logger.Warn().Err(err).Msg("result publish failed")
			meta["publish_error"] = err.Error()
		} else {
			meta["manifest_url"] = url
		}
	}

	// A batch that produced nothing while skipping inputs failed outright;
	// an empty batch over an untouched session is a valid no-op.
	state := "success"
	if rep.PagesDone == 0 && len(rep.FilesSkipped) > 0 {
		state = "failed"
	}
	now := time.Now()
	r.setStatus(jobID, Status{
		Status:   state,
		Progress: 100,
		Message:  rep.Summary(),
		End:      &now,
		Metadata: meta,
	})
	metrics.IncJob(state)

	logger.Info().
		Str("state", state).
		Int("pages", manifest.PageCount).
		Int("sheets", manifest.SheetCount).
		Int("failed", rep.PagesFailed).
		Dur("elapsed", rep.Elapsed).
		Msg("job finished")
	if state == "failed" {
		return fmt.Errorf("no pages ingested: %s", rep.Summary())
	}
	return nil
}

// renderSheets composes every sheet to a PNG under the job's result
// directory and records each one in the result store.
func (r *Runner) renderSheets(ctx context.Context, jobID string, sess *Session, m Manifest) ([]string, error) {
	dir := filepath.Join(r.cfg.ResultDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := compose.Options{
		DPI:           r.cfg.PreviewDPI,
		Trim:          r.cfg.Trim,
		TrimThreshold: r.cfg.TrimThreshold,
		Ordinals:      true,
		Footer:        true,
	}
	paths := make([]string, 0, m.SheetCount)
	for _, sh := range m.Sheets {
		png, err := sess.RenderSheet(sh.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("sheet %d: %w", sh.Number, err)
		}
		p := filepath.Join(dir, fmt.Sprintf("sheet-%03d.png", sh.Number))
		if err := os.WriteFile(p, png, 0o644); err != nil {
			return nil, err
		}
		if err := r.deps.Results.SaveSheet(ctx, jobID, sh.Number, p, len(sh.Pages)); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Int("sheet", sh.Number).Msg("sheet record save failed")
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (r *Runner) publishResult(ctx context.Context, jobID string, manifest []byte, sheetPaths []string) (string, error) {
	cli, err := storage.NewS3Client(ctx, r.cfg.Upload)
	if err != nil {
		return "", err
	}
	return cli.UploadResult(ctx, jobID, manifest, sheetPaths, r.cfg.FilePassword)
}
