package decode

import (
	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// PageCount reports the page count of a local PDF without holding the
// document open. pdfcpu is the fast path; when it rejects a file that MuPDF
// can still read, the MuPDF count wins.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err == nil {
		return n, nil
	}
	log.Debug().Err(err).Str("path", path).Msg("pdfcpu page count failed, trying mupdf")

	doc, ferr := fitz.New(path)
	if ferr != nil {
		return 0, &DecodeError{Path: path, Err: ferr}
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
