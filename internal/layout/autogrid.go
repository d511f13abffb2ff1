package layout

// DefaultMinCellWidthMM is the readability floor for auto-selected grids:
// a slide narrower than this is hard to read on paper.
const DefaultMinCellWidthMM = 90.0

// Candidate shapes for auto selection, ordered by capacity.
var candidateGrids = []Grid{
	{1, 1}, {1, 2}, {2, 1}, {2, 2},
	{2, 3}, {3, 2},
	{3, 3},
	{2, 4}, {4, 2},
	{3, 4}, {4, 3},
	{4, 4},
}

// AutoGrid picks the densest candidate grid whose cell width stays at or
// above minCellWidthMM on the given paper. Ties on capacity go to the wider
// cell. When nothing qualifies the 1x1 grid is returned, so the result is
// always usable.
func AutoGrid(d Dimensions, marginMM, gapMM, minCellWidthMM float64) Grid {
	usableW := d.WidthMM - 2*marginMM
	best := Grid{Rows: 1, Cols: 1}
	bestWidth := cellWidth(usableW, best.Cols, gapMM)
	for _, g := range candidateGrids {
		w := cellWidth(usableW, g.Cols, gapMM)
		if w < minCellWidthMM {
			continue
		}
		switch {
		case g.Capacity() > best.Capacity():
			best, bestWidth = g, w
		case g.Capacity() == best.Capacity() && w > bestWidth:
			best, bestWidth = g, w
		}
	}
	return best
}

func cellWidth(usableW float64, cols int, gapMM float64) float64 {
	return (usableW - float64(cols-1)*gapMM) / float64(cols)
}
