package jobs

import (
	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/page"
)

// PageInfo describes one page's place in the composed output.
type PageInfo struct {
	ID      string `json:"id"`
	Ordinal int    `json:"ordinal"`
	Source  string `json:"source"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// SheetInfo lists the pages assigned to one output sheet.
type SheetInfo struct {
	Number int        `json:"number"`
	Pages  []PageInfo `json:"pages"`
}

// LayoutInfo echoes the geometry the sheets were partitioned for.
type LayoutInfo struct {
	Rows        int     `json:"rows"`
	Cols        int     `json:"cols"`
	Paper       string  `json:"paper"`
	Orientation string  `json:"orientation"`
	WidthMM     float64 `json:"width_mm"`
	HeightMM    float64 `json:"height_mm"`
	MarginMM    float64 `json:"margin_mm"`
	GapMM       float64 `json:"gap_mm"`
}

// Manifest is the client-facing description of a session's sheets. It is
// derived from the page order on demand and never stored alongside the
// collection.
type Manifest struct {
	SessionID  string      `json:"session_id"`
	Layout     LayoutInfo  `json:"layout"`
	PageCount  int         `json:"page_count"`
	SheetCount int         `json:"sheet_count"`
	Sheets     []SheetInfo `json:"sheets"`
}

func buildManifest(sessionID string, lc layout.Config, pages []page.Page) (Manifest, error) {
	dims, err := lc.Dimensions()
	if err != nil {
		return Manifest{}, err
	}
	sheets := layout.Paginate(pages, lc.Grid.Capacity())
	m := Manifest{
		SessionID: sessionID,
		Layout: LayoutInfo{
			Rows:        lc.Grid.Rows,
			Cols:        lc.Grid.Cols,
			Paper:       string(lc.Paper),
			Orientation: string(lc.Orientation),
			WidthMM:     dims.WidthMM,
			HeightMM:    dims.HeightMM,
			MarginMM:    lc.MarginMM,
			GapMM:       lc.GapMM,
		},
		PageCount:  len(pages),
		SheetCount: len(sheets),
		Sheets:     make([]SheetInfo, 0, len(sheets)),
	}
	ordinal := 1
	for _, sh := range sheets {
		si := SheetInfo{Number: sh.Number, Pages: make([]PageInfo, 0, len(sh.Pages))}
		for _, pg := range sh.Pages {
			si.Pages = append(si.Pages, PageInfo{
				ID:      pg.ID,
				Ordinal: ordinal,
				Source:  pg.Source.String(),
				Width:   pg.Width,
				Height:  pg.Height,
			})
			ordinal++
		}
		m.Sheets = append(m.Sheets, si)
	}
	return m, nil
}
