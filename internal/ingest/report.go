package ingest

import (
	"fmt"
	"time"
)

// SkippedFile records one source that contributed nothing to the batch.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report aggregates one batch's outcome. Decode and render failures are
// recovered inside the batch and surface here only as counts and skip
// records; failed inputs are simply absent from the collection, with no gap
// markers. The caller decides how to present the skips.
type Report struct {
	BatchToken   string        `json:"batch_token"`
	PagesTotal   int           `json:"pages_total"`
	PagesDone    int           `json:"pages_done"`
	PagesFailed  int           `json:"pages_failed"`
	FilesSkipped []SkippedFile `json:"files_skipped,omitempty"`
	AppendedIDs  []string      `json:"appended_ids"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Clean reports whether every input rendered.
func (r *Report) Clean() bool {
	return r.PagesFailed == 0 && len(r.FilesSkipped) == 0
}

// Summary renders the caller-facing aggregate line.
func (r *Report) Summary() string {
	switch {
	case r.PagesFailed > 0 && len(r.FilesSkipped) > 0:
		return fmt.Sprintf("%d of %d pages failed, %d files skipped", r.PagesFailed, r.PagesTotal, len(r.FilesSkipped))
	case r.PagesFailed > 0:
		return fmt.Sprintf("%d of %d pages failed", r.PagesFailed, r.PagesTotal)
	case len(r.FilesSkipped) > 0:
		return fmt.Sprintf("%d pages rendered, %d files skipped", r.PagesDone, len(r.FilesSkipped))
	}
	return fmt.Sprintf("all %d pages rendered", r.PagesDone)
}
