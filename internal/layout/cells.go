package layout

import "fmt"

// CellRect is one grid slot on the physical sheet, in millimeters from the
// sheet's top-left corner.
type CellRect struct {
	X float64 `json:"x_mm"`
	Y float64 `json:"y_mm"`
	W float64 `json:"w_mm"`
	H float64 `json:"h_mm"`
}

// CellRects lays out the grid's slots row-major inside the printable area:
// margin on all four edges, gap between adjacent cells. Slot i occupies row
// i/cols, column i%cols. An over-large margin or gap that leaves a cell with
// no area is a configuration error.
func CellRects(d Dimensions, g Grid, marginMM, gapMM float64) ([]CellRect, error) {
	usableW := d.WidthMM - 2*marginMM
	usableH := d.HeightMM - 2*marginMM
	cellW := (usableW - float64(g.Cols-1)*gapMM) / float64(g.Cols)
	cellH := (usableH - float64(g.Rows-1)*gapMM) / float64(g.Rows)
	if cellW <= 0 || cellH <= 0 {
		return nil, &ConfigError{
			Field:  "margin_mm",
			Value:  fmt.Sprintf("%.1f (gap %.1f)", marginMM, gapMM),
			Reason: fmt.Sprintf("leaves no cell area on %.1fx%.1fmm paper with a %dx%d grid", d.WidthMM, d.HeightMM, g.Rows, g.Cols),
		}
	}
	rects := make([]CellRect, 0, g.Capacity())
	for i := 0; i < g.Capacity(); i++ {
		r := i / g.Cols
		c := i % g.Cols
		rects = append(rects, CellRect{
			X: marginMM + float64(c)*(cellW+gapMM),
			Y: marginMM + float64(r)*(cellH+gapMM),
			W: cellW,
			H: cellH,
		})
	}
	return rects, nil
}

// FitRect centers a w-by-h bitmap inside the cell preserving its aspect
// ratio, returning the placement rectangle in the same millimeter space.
func FitRect(cell CellRect, w, h int) CellRect {
	if w <= 0 || h <= 0 {
		return CellRect{X: cell.X, Y: cell.Y}
	}
	scale := cell.W / float64(w)
	if s := cell.H / float64(h); s < scale {
		scale = s
	}
	fitW := float64(w) * scale
	fitH := float64(h) * scale
	return CellRect{
		X: cell.X + (cell.W-fitW)/2,
		Y: cell.Y + (cell.H-fitH)/2,
		W: fitW,
		H: fitH,
	}
}
