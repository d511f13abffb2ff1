package decode

import (
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ImageOpener opens a raster image file (png, jpeg) as a one-page document.
// The single page renders at the image's natural pixel size; the render
// scale does not apply, since there is no vector source to rasterize.
type ImageOpener struct{}

func (ImageOpener) Open(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return &imageDocument{path: path, img: img}, nil
}

type imageDocument struct {
	path string
	img  image.Image
}

func (d *imageDocument) NumPages() int { return 1 }

func (d *imageDocument) Render(pageNum int, _ float64) (image.Image, error) {
	if pageNum != 1 {
		return nil, &RenderError{Path: d.path, PageNum: pageNum, Err: errors.New("image documents have a single page")}
	}
	return d.img, nil
}

func (d *imageDocument) Close() error {
	d.img = nil
	return nil
}
