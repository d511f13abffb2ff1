package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/converter"
	"github.com/local/sheetpack/internal/decode"
	"github.com/local/sheetpack/internal/filetype"
	"github.com/local/sheetpack/internal/ingest"
	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/storage"
)

// Queue is the control surface the runner needs from the job queue.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	Depths(ctx context.Context) (ready, delayed, dlq int64, err error)
}

// StatusStore persists job lifecycle records.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st Status) error
	Get(ctx context.Context, jobID string) (Status, bool, error)
}

// Results persists rendered-sheet records and manifests.
type Results interface {
	SaveSheet(ctx context.Context, jobID string, n int, path string, pages int) error
	SaveManifest(ctx context.Context, jobID string, manifest []byte) error
	GetManifest(ctx context.Context, jobID string) ([]byte, error)
}

// Fetcher resolves source refs to local files.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*storage.Source, error)
}

// Converter turns office documents into PDFs ahead of ingestion.
type Converter interface {
	ConvertToPDF(ctx context.Context, job converter.Job) converter.Result
}

// SourceSpec names one input document of a job.
type SourceSpec struct {
	Ref    string `json:"ref"`
	Name   string `json:"name,omitempty"`
	Select string `json:"select,omitempty"`
}

// LayoutSpec carries a job's overrides of the default sheet geometry.
// Pointer fields distinguish "not set" from an explicit zero.
type LayoutSpec struct {
	Rows        int      `json:"rows,omitempty"`
	Cols        int      `json:"cols,omitempty"`
	Auto        bool     `json:"auto,omitempty"`
	Paper       string   `json:"paper,omitempty"`
	Orientation string   `json:"orientation,omitempty"`
	MarginMM    *float64 `json:"margin_mm,omitempty"`
	GapMM       *float64 `json:"gap_mm,omitempty"`
}

// Request is one compose job as submitted over HTTP or read off the queue.
// Attempt counts the runs already consumed; the worker bumps it when it
// schedules a retry.
type Request struct {
	JobID          string       `json:"job_id"`
	SessionID      string       `json:"session_id,omitempty"`
	Sources        []SourceSpec `json:"sources,omitempty"`
	Layout         *LayoutSpec  `json:"layout,omitempty"`
	ManifestOnly   bool         `json:"manifest_only,omitempty"`
	Publish        bool         `json:"publish,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Attempt        int          `json:"attempt,omitempty"`
}

// Config tunes the runner.
type Config struct {
	WorkDir        string
	ResultDir      string
	Scale          float64
	PreviewDPI     float64
	Trim           bool
	TrimThreshold  uint8
	DefaultLayout  layout.Config
	Upload         storage.S3Options
	FilePassword   string
	ConvertTimeout time.Duration
}

// Dependencies wires the runner's collaborators. Convert may be nil when
// office conversion is disabled.
type Dependencies struct {
	Queue    Queue
	Status   StatusStore
	Results  Results
	Sessions *Sessions
	Fetcher  Fetcher
	Convert  Converter
	Detector *filetype.Detector
}

// Runner executes compose jobs against the session registry.
type Runner struct {
	cfg  Config
	deps Dependencies
}

func NewRunner(cfg Config, deps Dependencies) *Runner {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if cfg.Scale <= 0 {
		cfg.Scale = decode.DefaultScale
	}
	return &Runner{cfg: cfg, deps: deps}
}

// ResolveLayout applies a job's overrides to a base geometry. A bad value is
// an error; nothing is silently replaced.
func ResolveLayout(base layout.Config, spec *LayoutSpec) (layout.Config, error) {
	lc := base
	if spec == nil {
		return lc, nil
	}
	if spec.Paper != "" {
		size, err := layout.ParsePaperSize(spec.Paper)
		if err != nil {
			return layout.Config{}, err
		}
		lc.Paper = size
	}
	if spec.Orientation != "" {
		o, err := layout.ParseOrientation(spec.Orientation)
		if err != nil {
			return layout.Config{}, err
		}
		lc.Orientation = o
	}
	if spec.MarginMM != nil {
		lc.MarginMM = *spec.MarginMM
	}
	if spec.GapMM != nil {
		lc.GapMM = *spec.GapMM
	}
	if spec.Rows != 0 || spec.Cols != 0 {
		lc.Grid = layout.Grid{Rows: spec.Rows, Cols: spec.Cols}
	}
	if spec.Auto {
		dims, err := layout.Resolve(lc.Paper, lc.Orientation)
		if err != nil {
			return layout.Config{}, err
		}
		lc.Grid = layout.AutoGrid(dims, lc.MarginMM, lc.GapMM, layout.DefaultMinCellWidthMM)
	}
	if err := lc.Validate(); err != nil {
		return layout.Config{}, err
	}
	return lc, nil
}

// Run executes one job to completion. The context carries the job deadline;
// a batch that outlives it still runs to its end inside the session, and its
// pages are dropped once it finishes so an abandoned job leaves no trace.
func (r *Runner) Run(ctx context.Context, req Request) error {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	logger := log.With().Str("job_id", jobID).Logger()

	lc, err := ResolveLayout(r.cfg.DefaultLayout, req.Layout)
	if err != nil {
		logger.Error().Err(err).Msg("job rejected, invalid layout")
		r.failJob(jobID, fmt.Sprintf("invalid configuration: %v", err))
		return err
	}

	sess := r.deps.Sessions.GetOrCreate(req.SessionID, lc)
	if req.Layout != nil {
		// An existing session keeps its own geometry unless the job names
		// one; then the override applies to this and later renders.
		if err := sess.SetLayout(lc); err != nil {
			r.failJob(jobID, fmt.Sprintf("invalid configuration: %v", err))
			return err
		}
	}
	metrics.SetSessions(r.deps.Sessions.Len())

	now := time.Now()
	r.setStatus(jobID, Status{
		Status:   "running",
		Progress: 5,
		Message:  "fetching sources",
		Start:    &now,
		Metadata: map[string]interface{}{"session_id": sess.ID},
	})

	inputs, skipped, cleanups := r.prepareInputs(ctx, req.Sources)
	defer func() {
		for _, fn := range cleanups {
			fn()
		}
	}()

	total := estimatePages(inputs)
	prog := &ingest.Progress{}
	pipeline := ingest.New(ingest.Options{Scale: r.cfg.Scale, Progress: prog})

	monitorDone := make(chan struct{})
	go r.watchProgress(jobID, prog, total, monitorDone)

	type runOut struct {
		rep *ingest.Report
		err error
	}
	outCh := make(chan runOut, 1)
	go func() {
		rep, err := sess.Ingest(pipeline, inputs)
		outCh <- runOut{rep: rep, err: err}
	}()

	var rep *ingest.Report
	select {
	case out := <-outCh:
		close(monitorDone)
		if out.err != nil {
			logger.Error().Err(out.err).Msg("ingest failed")
			r.failJob(jobID, fmt.Sprintf("ingest failed: %v", out.err))
			return out.err
		}
		rep = out.rep
	case <-ctx.Done():
		close(monitorDone)
		logger.Warn().Str("session_id", sess.ID).Msg("job deadline reached, abandoning batch")
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.deps.Queue.CancelJob(cctx, jobID)
		cancel()
		go func() {
			// The batch keeps running inside the session. Once it lands,
			// strip its pages so the collection returns to its pre-batch
			// order.
			out := <-outCh
			if out.rep != nil {
				dropped := sess.DropPages(out.rep.AppendedIDs)
				logger.Info().Int("pages", dropped).Msg("abandoned batch rolled back")
			}
		}()
		r.finishJob(jobID, "timeout", "job deadline exceeded, batch abandoned")
		return ctx.Err()
	}

	rep.FilesSkipped = append(skipped, rep.FilesSkipped...)

	if cancelled, _ := r.deps.Queue.IsCancelled(context.Background(), jobID); cancelled {
		dropped := sess.DropPages(rep.AppendedIDs)
		logger.Info().Int("pages", dropped).Msg("job cancelled, batch rolled back")
		r.finishJob(jobID, "cancelled", "job cancelled")
		return nil
	}

	return r.finalize(jobID, sess, req, rep)
}

// prepareInputs fetches every source and converts office documents. A bad
// source becomes a skipped-file entry; the rest of the job proceeds.
func (r *Runner) prepareInputs(ctx context.Context, sources []SourceSpec) ([]ingest.Input, []ingest.SkippedFile, []func()) {
	inputs := make([]ingest.Input, 0, len(sources))
	var skipped []ingest.SkippedFile
	var cleanups []func()

	for _, src := range sources {
		fetched, err := r.deps.Fetcher.Fetch(ctx, src.Ref)
		if err != nil {
			log.Warn().Err(err).Str("ref", src.Ref).Msg("source fetch failed")
			metrics.IncIngestFailure("fetch")
			skipped = append(skipped, ingest.SkippedFile{Path: src.Ref, Reason: fmt.Sprintf("fetch: %v", err)})
			continue
		}
		path := fetched.Path
		if fetched.Temp {
			p := path
			cleanups = append(cleanups, func() { _ = os.Remove(p) })
		}
		name := src.Name
		if name == "" {
			name = fetched.Name
		}

		if r.deps.Detector.DetectKind(path) == filetype.Office {
			out, err := r.convertOffice(ctx, path)
			if err != nil {
				log.Warn().Err(err).Str("ref", src.Ref).Msg("office conversion failed")
				metrics.IncIngestFailure("convert")
				skipped = append(skipped, ingest.SkippedFile{Path: src.Ref, Reason: err.Error()})
				continue
			}
			path = out
			cleanups = append(cleanups, func() { _ = os.Remove(out) })
		}

		inputs = append(inputs, ingest.Input{Path: path, Name: name, Select: src.Select})
	}
	return inputs, skipped, cleanups
}

func (r *Runner) convertOffice(ctx context.Context, path string) (string, error) {
	if r.deps.Convert == nil {
		return "", fmt.Errorf("office conversion disabled")
	}
	outPath := filepath.Join(r.cfg.WorkDir, "conv-"+uuid.NewString()+".pdf")
	res := r.deps.Convert.ConvertToPDF(ctx, converter.Job{
		InputPath:  path,
		OutputPath: outPath,
		Timeout:    r.cfg.ConvertTimeout,
	})
	if !res.Success {
		if res.IsProtected {
			return "", fmt.Errorf("convert: document is password protected")
		}
		return "", fmt.Errorf("convert: %s", res.Error)
	}
	return res.OutputPath, nil
}

// estimatePages pre-scans the inputs so progress can be reported against a
// total. Sources that refuse a page count just don't contribute.
func estimatePages(inputs []ingest.Input) int {
	total := 0
	for _, in := range inputs {
		n, err := decode.PageCount(in.Path)
		if err != nil {
			continue
		}
		if sel, err := ingest.SelectPages(n, in.Select); err == nil {
			total += len(sel)
		} else {
			total += n
		}
	}
	return total
}

// watchProgress mirrors the pipeline's page counter into the job status
// while the batch runs. The counter only grows, so every published count is
// a true prefix of the batch.
func (r *Runner) watchProgress(jobID string, prog *ingest.Progress, total int, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n := prog.Count()
			if n == last {
				continue
			}
			last = n
			pct := 10
			if total > 0 {
				pct = 10 + int(float64(n)/float64(total)*80)
				if pct > 90 {
					pct = 90
				}
			}
			msg := fmt.Sprintf("rendered %d pages", n)
			if total > 0 {
				msg = fmt.Sprintf("rendered %d of %d pages", n, total)
			}
			// Nil metadata leaves the stored metadata field untouched.
			r.setStatus(jobID, Status{Status: "running", Progress: pct, Message: msg})
		}
	}
}

func (r *Runner) setStatus(jobID string, st Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.Status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("status update failed")
	}
}

func (r *Runner) failJob(jobID, msg string) {
	r.finishJob(jobID, "failed", msg)
}

func (r *Runner) finishJob(jobID, state, msg string) {
	now := time.Now()
	r.setStatus(jobID, Status{Status: statusName(state), Progress: 100, Message: msg, End: &now})
	metrics.IncJob(state)
}

// statusName maps internal outcome labels onto the stored status values.
// A timeout is a failure to the client; cancellation keeps its own state.
func statusName(state string) string {
	if state == "timeout" {
		return "failed"
	}
	return state
}
