package compose

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/page"
)

func testConfig() layout.Config {
	return layout.Config{
		Grid:        layout.Grid{Rows: 2, Cols: 2},
		Paper:       layout.A4,
		Orientation: layout.Portrait,
		MarginMM:    layout.DefaultMarginMM,
		GapMM:       layout.DefaultGapMM,
	}
}

func grayPage(id string, w, h int, c color.Color) page.Page {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return page.New(id, page.Source{Document: "t.pdf", PageNum: 1}, img)
}

func isDark(img image.Image, x, y int) bool {
	r, _, _, _ := img.At(x, y).RGBA()
	return uint8(r>>8) < 128
}

func countDark(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 4 {
		for x := b.Min.X; x < b.Max.X; x += 4 {
			if isDark(img, x, y) {
				n++
			}
		}
	}
	return n
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MarginMM = 120
	_, err := New(cfg, Options{})
	var cfgErr *layout.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCanvasSize(t *testing.T) {
	r, err := New(testConfig(), Options{DPI: 150})
	require.NoError(t, err)
	w, h := r.Canvas()
	require.Equal(t, 1240, w)
	require.Equal(t, 1753, h)
}

func TestCanvasDefaultDPI(t *testing.T) {
	r, err := New(testConfig(), Options{})
	require.NoError(t, err)
	w, _ := r.Canvas()
	require.Equal(t, 1240, w)
}

func TestSheetBlank(t *testing.T) {
	r, err := New(testConfig(), Options{})
	require.NoError(t, err)

	img, err := r.Sheet(layout.Sheet{Number: 1}, 0)
	require.NoError(t, err)

	w, h := r.Canvas()
	require.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
	require.False(t, isDark(img, 0, 0))
	require.False(t, isDark(img, w/2, h/2))
}

func TestSheetPlacesPageInCell(t *testing.T) {
	r, err := New(testConfig(), Options{})
	require.NoError(t, err)

	pg := grayPage("p1", 100, 140, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	img, err := r.Sheet(layout.Sheet{Number: 1, Pages: []page.Page{pg}}, 1)
	require.NoError(t, err)

	// The middle of the first cell carries the page; the other cells and
	// the margins stay paper white.
	require.True(t, isDark(img, 333, 462))
	require.False(t, isDark(img, 20, 20))
	require.False(t, isDark(img, 906, 462))
	require.False(t, isDark(img, 333, 1291))
}

func TestSheetSkipsNilBitmap(t *testing.T) {
	r, err := New(testConfig(), Options{Ordinals: true})
	require.NoError(t, err)

	img, err := r.Sheet(layout.Sheet{Number: 1, Pages: []page.Page{{ID: "gone"}}}, 1)
	require.NoError(t, err)
	require.Zero(t, countDark(img))
}

func TestSheetOverCapacity(t *testing.T) {
	r, err := New(testConfig(), Options{})
	require.NoError(t, err)

	over := make([]page.Page, 5)
	_, err = r.Sheet(layout.Sheet{Number: 3, Pages: over}, 3)
	require.EqualError(t, err, "sheet 3 holds 5 pages, capacity is 4")
}

func TestSheetOrdinals(t *testing.T) {
	r, err := New(testConfig(), Options{Ordinals: true})
	require.NoError(t, err)

	pg := grayPage("p1", 100, 140, color.White)
	img, err := r.Sheet(layout.Sheet{Number: 2, Pages: []page.Page{pg}}, 2)
	require.NoError(t, err)

	// A white page renders no ink of its own, so any dark pixels belong to
	// the ordinal badge near the cell's top right corner.
	found := false
	for y := 60; y < 95 && !found; y++ {
		for x := 550; x < 610 && !found; x++ {
			found = isDark(img, x, y)
		}
	}
	require.True(t, found)
}

func TestSheetFooter(t *testing.T) {
	r, err := New(testConfig(), Options{Footer: true})
	require.NoError(t, err)

	img, err := r.Sheet(layout.Sheet{Number: 1}, 2)
	require.NoError(t, err)

	found := false
	for y := 1690; y < 1740 && !found; y++ {
		for x := 1100; x < 1240 && !found; x++ {
			found = isDark(img, x, y)
		}
	}
	require.True(t, found)

	// Footer is suppressed when the sheet count is unknown.
	img, err = r.Sheet(layout.Sheet{Number: 1}, 0)
	require.NoError(t, err)
	require.Zero(t, countDark(img))
}

func TestSheetTrimEnlargesContent(t *testing.T) {
	// A page that is mostly blank margin with a small dark block.
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(40, 40, 60, 60), image.NewUniform(color.Black), image.Point{}, draw.Src)
	pg := page.New("p1", page.Source{Document: "t.pdf", PageNum: 1}, img)

	plain, err := New(testConfig(), Options{})
	require.NoError(t, err)
	trimmed, err := New(testConfig(), Options{Trim: true})
	require.NoError(t, err)

	sheet := layout.Sheet{Number: 1, Pages: []page.Page{pg}}
	plainImg, err := plain.Sheet(sheet, 1)
	require.NoError(t, err)
	trimImg, err := trimmed.Sheet(sheet, 1)
	require.NoError(t, err)

	// Cropping the margins lets the block fill the cell, so far more of
	// the canvas ends up dark.
	require.Greater(t, countDark(trimImg), 2*countDark(plainImg))
}

func TestEncodePNG(t *testing.T) {
	r, err := New(testConfig(), Options{})
	require.NoError(t, err)
	img, err := r.Sheet(layout.Sheet{Number: 1}, 0)
	require.NoError(t, err)

	data, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), decoded.Bounds())
}
