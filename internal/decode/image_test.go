package decode

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(t.TempDir(), "page.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestImageOpenerPNG(t *testing.T) {
	path := writePNG(t, 20, 30)

	doc, err := ImageOpener{}.Open(path)
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 1, doc.NumPages())

	// The scale argument does not apply to raster sources; the single page
	// comes back at its natural pixel size.
	img, err := doc.Render(1, DefaultScale)
	require.NoError(t, err)
	require.Equal(t, 20, img.Bounds().Dx())
	require.Equal(t, 30, img.Bounds().Dy())
}

func TestImageOpenerJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 15, 10)), nil))
	require.NoError(t, f.Close())

	doc, err := ImageOpener{}.Open(path)
	require.NoError(t, err)
	defer doc.Close()

	img, err := doc.Render(1, 1)
	require.NoError(t, err)
	require.Equal(t, 15, img.Bounds().Dx())
}

func TestImageOpenerRejectsOtherPages(t *testing.T) {
	doc, err := ImageOpener{}.Open(writePNG(t, 4, 4))
	require.NoError(t, err)
	defer doc.Close()

	_, err = doc.Render(2, 1)
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 2, rerr.PageNum)
}

func TestImageOpenerMissingFile(t *testing.T) {
	_, err := ImageOpener{}.Open(filepath.Join(t.TempDir(), "nope.png"))
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestImageOpenerGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := ImageOpener{}.Open(path)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestErrorStrings(t *testing.T) {
	cause := errors.New("boom")

	derr := &DecodeError{Path: "a.pdf", Err: cause}
	require.Equal(t, "decode a.pdf: boom", derr.Error())
	require.ErrorIs(t, derr, cause)

	rerr := &RenderError{Path: "a.pdf", PageNum: 3, Err: cause}
	require.Equal(t, "render a.pdf page 3: boom", rerr.Error())
	require.ErrorIs(t, rerr, cause)
}

func TestDefaultOpenerInstalled(t *testing.T) {
	require.NotNil(t, Default())
}
