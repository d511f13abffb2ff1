// Package decode opens paginated source documents and rasterizes their
// pages into bitmaps. The default opener is backed by MuPDF via go-fitz;
// raster image files get their own single-page opener, and tests install
// fake openers through the ingestion options.
package decode

import "image"

// BaseDPI is the rasterization base: a scale of 1.0 renders at 72 dpi.
const BaseDPI = 72.0

// DefaultScale is the render resolution multiplier used when the caller
// passes none.
const DefaultScale = 2.0

// Document is an opened paginated source. Page numbers are 1-based; an open
// document always has at least one page.
type Document interface {
	// NumPages reports the page count.
	NumPages() int
	// Render rasterizes one page at BaseDPI*scale into a bitmap whose
	// dimensions are the page size multiplied by scale. A failure is a
	// RenderError scoped to that page only.
	Render(pageNum int, scale float64) (image.Image, error)
	Close() error
}

// Opener opens a source file into a Document. A failure is a DecodeError
// scoped to that file only.
type Opener interface {
	Open(path string) (Document, error)
}

// defaultOpener is installed by the go-fitz implementation in fitz.go.
var defaultOpener Opener

func setDefaultOpener(o Opener) { defaultOpener = o }

// Default returns the process-wide opener for paginated documents.
func Default() Opener { return defaultOpener }
