// Package page defines the rendered-page model and the id generator used by
// the collection. A Page pairs one source-document page with the bitmap it
// was rasterized into; ids stay stable across reorders for the whole session.
package page

import (
	"fmt"
	"image"

	"github.com/google/uuid"
)

// Source identifies where a page came from: the ingested document and the
// 1-based page number inside it. It feeds id derivation and diagnostics,
// never ordering.
type Source struct {
	Document string `json:"document"`
	PageNum  int    `json:"page_num"`
}

func (s Source) String() string {
	return fmt.Sprintf("%s#%d", s.Document, s.PageNum)
}

// Page is one rendered document page. The bitmap is exclusively owned by the
// Page; the reference is dropped when the page leaves the collection.
type Page struct {
	ID     string
	Source Source
	Bitmap image.Image
	Width  int
	Height int
}

// New builds a Page from a rendered bitmap, capturing its pixel dimensions
// at render time. Dimensions never change afterwards.
func New(id string, src Source, bitmap image.Image) Page {
	b := bitmap.Bounds()
	return Page{
		ID:     id,
		Source: src,
		Bitmap: bitmap,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// IDSource hands out collision-free page ids: a counter that only moves
// forward for the lifetime of the session, combined with a per-batch token.
// Uniqueness comes from the counter; the token makes ids traceable to the
// ingestion batch that produced them.
type IDSource struct {
	seq uint64
}

// NewBatchToken returns a short opaque token identifying one append batch.
func NewBatchToken() string {
	return uuid.NewString()[:8]
}

// Next returns the next id under the given batch token.
func (s *IDSource) Next(batchToken string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", batchToken, s.seq)
}

// Issued reports how many ids this source has handed out.
func (s *IDSource) Issued() uint64 {
	return s.seq
}
