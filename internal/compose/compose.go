// Package compose renders derived sheets into raster previews: a white
// paper-sized canvas at a chosen DPI with every page aspect-fit into its
// grid cell. Previews are what the web layer serves; the physical composite
// itself is produced by the consumer's print facility from the manifest, not
// here.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/trim"
)

// DefaultDPI is the preview raster density. High enough to judge layout and
// legibility, cheap enough to compose on demand.
const DefaultDPI = 150.0

const mmPerInch = 25.4

// Options controls sheet composition.
type Options struct {
	// DPI of the preview canvas. Zero means DefaultDPI.
	DPI float64
	// Trim crops each page to its estimated content box before placement.
	Trim bool
	// TrimThreshold is the background cutoff for Trim. Zero means
	// trim.DefaultThreshold.
	TrimThreshold uint8
	// Ordinals draws each page's positional ordinal in its cell corner.
	Ordinals bool
	// Footer draws a "sheet / total" line at the bottom right.
	Footer bool
}

// Renderer composes sheets for one validated layout configuration.
type Renderer struct {
	cfg   layout.Config
	dims  layout.Dimensions
	cells []layout.CellRect
	opts  Options
}

// New builds a Renderer. The configuration must already be validated; the
// same ConfigError surfaces here if it was not.
func New(cfg layout.Config, opts Options) (*Renderer, error) {
	dims, err := cfg.Dimensions()
	if err != nil {
		return nil, err
	}
	cells, err := layout.CellRects(dims, cfg.Grid, cfg.MarginMM, cfg.GapMM)
	if err != nil {
		return nil, err
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.TrimThreshold == 0 {
		opts.TrimThreshold = trim.DefaultThreshold
	}
	return &Renderer{cfg: cfg, dims: dims, cells: cells, opts: opts}, nil
}

// Canvas returns the pixel size of a composed sheet at the renderer's DPI.
func (r *Renderer) Canvas() (int, int) {
	return r.toPx(r.dims.WidthMM), r.toPx(r.dims.HeightMM)
}

// Sheet renders one sheet. totalSheets feeds the footer; cells beyond the
// sheet's pages stay blank paper.
func (r *Renderer) Sheet(s layout.Sheet, totalSheets int) (*image.RGBA, error) {
	start := time.Now()
	w, h := r.Canvas()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	capacity := r.cfg.Grid.Capacity()
	if len(s.Pages) > capacity {
		return nil, fmt.Errorf("sheet %d holds %d pages, capacity is %d", s.Number, len(s.Pages), capacity)
	}

	for i, pg := range s.Pages {
		bm := pg.Bitmap
		if bm == nil {
			continue
		}
		if r.opts.Trim {
			box := trim.ContentBounds(bm, r.opts.TrimThreshold, trim.DefaultPadPx)
			bm = trim.Crop(bm, box)
		}
		b := bm.Bounds()
		fit := layout.FitRect(r.cells[i], b.Dx(), b.Dy())
		target := image.Rect(r.toPx(fit.X), r.toPx(fit.Y), r.toPx(fit.X+fit.W), r.toPx(fit.Y+fit.H))
		xdraw.CatmullRom.Scale(dst, target, bm, b, xdraw.Over, nil)

		if r.opts.Ordinals {
			ordinal := (s.Number-1)*capacity + i + 1
			r.drawOrdinal(dst, r.cells[i], ordinal)
		}
	}

	if r.opts.Footer && totalSheets > 0 {
		r.drawFooter(dst, s.Number, totalSheets)
	}

	metrics.ObserveCompose(time.Since(start))
	return dst, nil
}

// Badge geometry in millimeters, anchored like the print output: ordinal at
// the cell's top right, footer at the sheet's bottom right.
const (
	ordinalPadMM = 2.5
	footerPadMM  = 6.0
)

func (r *Renderer) drawOrdinal(dst *image.RGBA, cell layout.CellRect, ordinal int) {
	text := fmt.Sprintf("%d", ordinal)
	x := r.toPx(cell.X+cell.W-ordinalPadMM) - textWidth(text)
	y := r.toPx(cell.Y+ordinalPadMM) + basicfont.Face7x13.Ascent
	drawText(dst, text, x, y)
}

func (r *Renderer) drawFooter(dst *image.RGBA, number, total int) {
	text := fmt.Sprintf("%d / %d", number, total)
	x := r.toPx(r.dims.WidthMM-footerPadMM) - textWidth(text)
	y := r.toPx(r.dims.HeightMM-footerPadMM)
	drawText(dst, text, x, y)
}

func (r *Renderer) toPx(mm float64) int {
	return int(mm / mmPerInch * r.opts.DPI)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

func drawText(dst *image.RGBA, s string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// EncodePNG serializes a composed sheet for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
