// Package ingest drives the decoder and renderer across a batch of source
// files, producing ordered page records that are appended to the collection
// in one atomic step after the whole batch finishes. Files are processed
// strictly in input order and pages strictly in ascending page order; that
// ordering is the only sequencing signal the user has before the first
// manual reorder, so it is load-bearing.
package ingest

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/collection"
	"github.com/local/sheetpack/internal/decode"
	"github.com/local/sheetpack/internal/filetype"
	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/page"
)

// Input is one source file in an ingestion batch.
type Input struct {
	Path string
	// Name is the display identity recorded on produced pages. Defaults to
	// the path's base name.
	Name string
	// Select optionally narrows which 1-based pages to ingest ("1,3-5").
	// Empty means every page.
	Select string
}

// Options configures a Pipeline.
type Options struct {
	// Opener opens paginated documents. Nil means the process default
	// (go-fitz).
	Opener decode.Opener
	// ImageOpener opens raster image sources. Nil means the built-in
	// png/jpeg opener.
	ImageOpener decode.Opener
	// Route overrides per-file opener selection. Nil routes by magic-byte
	// detection: images to ImageOpener, everything else to Opener.
	Route func(path string) decode.Opener
	// Scale is the render resolution multiplier. Zero or negative means
	// decode.DefaultScale.
	Scale float64
	// Progress, when set, is incremented once per successfully rendered
	// page, in rendering order.
	Progress *Progress
}

// Pipeline renders batches of source files into pages. Rendering is strictly
// sequential, one page at a time across the whole batch, so peak memory is
// bounded by a single in-flight full-resolution bitmap plus the pages
// already produced.
type Pipeline struct {
	opener      decode.Opener
	imageOpener decode.Opener
	route       func(path string) decode.Opener
	detector    *filetype.Detector
	scale       float64
	progress    *Progress
}

// New builds a Pipeline from options, filling in process defaults.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		opener:      opts.Opener,
		imageOpener: opts.ImageOpener,
		route:       opts.Route,
		detector:    filetype.New(),
		scale:       opts.Scale,
		progress:    opts.Progress,
	}
	if p.opener == nil {
		p.opener = decode.Default()
	}
	if p.imageOpener == nil {
		p.imageOpener = decode.ImageOpener{}
	}
	if p.scale <= 0 {
		p.scale = decode.DefaultScale
	}
	return p
}

// Run processes the inputs in order and appends every successfully rendered
// page to the collection in one batch once all inputs have been visited.
// Nothing is visible to the collection's readers mid-batch; the progress
// counter is the only mid-batch signal. A batch, once started, runs to
// completion: decode failures skip their file, render failures skip their
// page, and neither aborts the rest.
//
// The returned error is reserved for id collisions on append, which the
// counter-based generator rules out by construction; every expected failure
// mode is aggregated in the Report instead.
func (p *Pipeline) Run(coll *collection.Collection, ids *page.IDSource, inputs []Input) (*Report, error) {
	start := time.Now()
	token := page.NewBatchToken()
	rep := &Report{BatchToken: token}

	var pending []page.Page
	for _, in := range inputs {
		pending = p.ingestFile(in, ids, token, rep, pending)
	}

	if err := coll.Append(pending...); err != nil {
		return rep, err
	}
	rep.AppendedIDs = make([]string, len(pending))
	for i := range pending {
		rep.AppendedIDs[i] = pending[i].ID
	}
	rep.Elapsed = time.Since(start)

	log.Info().
		Str("batch", token).
		Int("files", len(inputs)).
		Int("files_skipped", len(rep.FilesSkipped)).
		Int("pages_done", rep.PagesDone).
		Int("pages_failed", rep.PagesFailed).
		Dur("elapsed", rep.Elapsed).
		Msg("ingestion batch finished")

	return rep, nil
}

// ingestFile renders one source and returns pending with its pages appended.
// Failures are recorded on the report at their granularity: the whole file
// for decode errors, the single page for render errors.
func (p *Pipeline) ingestFile(in Input, ids *page.IDSource, token string, rep *Report, pending []page.Page) []page.Page {
	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}

	doc, err := p.openerFor(in.Path).Open(in.Path)
	if err != nil {
		log.Warn().Err(err).Str("file", in.Path).Msg("skipping undecodable source")
		metrics.IncIngestFailure("decode")
		rep.FilesSkipped = append(rep.FilesSkipped, SkippedFile{Path: in.Path, Reason: err.Error()})
		return pending
	}
	defer doc.Close()

	pageNums, err := SelectPages(doc.NumPages(), in.Select)
	if err != nil {
		log.Warn().Err(err).Str("file", in.Path).Str("select", in.Select).Msg("skipping source with bad page selection")
		metrics.IncIngestFailure("selection")
		rep.FilesSkipped = append(rep.FilesSkipped, SkippedFile{Path: in.Path, Reason: err.Error()})
		return pending
	}
	rep.PagesTotal += len(pageNums)

	for _, n := range pageNums {
		renderStart := time.Now()
		img, err := doc.Render(n, p.scale)
		if err != nil {
			log.Warn().Err(err).Str("file", in.Path).Int("page", n).Msg("skipping unrenderable page")
			metrics.IncIngestFailure("render")
			rep.PagesFailed++
			continue
		}
		metrics.ObserveRender(time.Since(renderStart))

		pg := page.New(ids.Next(token), page.Source{Document: name, PageNum: n}, img)
		pending = append(pending, pg)
		rep.PagesDone++
		metrics.IncPageIngested()
		if p.progress != nil {
			p.progress.add()
		}
	}
	return pending
}

func (p *Pipeline) openerFor(path string) decode.Opener {
	if p.route != nil {
		return p.route(path)
	}
	if p.detector.DetectKind(path) == filetype.Image {
		return p.imageOpener
	}
	return p.opener
}
