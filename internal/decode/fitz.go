package decode

import (
	"errors"
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// fitzOpener implements Opener using github.com/gen2brain/go-fitz.
type fitzOpener struct{}

func (fitzOpener) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if doc.NumPage() < 1 {
		doc.Close()
		return nil, &DecodeError{Path: path, Err: errors.New("document has no pages")}
	}
	return &fitzDocument{doc: doc, path: path}, nil
}

// Ensure the default opener is the fitz-based implementation.
func init() {
	setDefaultOpener(fitzOpener{})
}

type fitzDocument struct {
	doc  *fitz.Document
	path string
}

func (d *fitzDocument) NumPages() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Render(pageNum int, scale float64) (image.Image, error) {
	if scale <= 0 {
		scale = DefaultScale
	}
	// go-fitz indexes from zero; the contract here is 1-based.
	img, err := d.doc.ImageDPI(pageNum-1, BaseDPI*scale)
	if err != nil {
		return nil, &RenderError{Path: d.path, PageNum: pageNum, Err: err}
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
