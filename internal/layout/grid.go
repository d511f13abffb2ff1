package layout

import "strconv"

// Spacing defaults in millimeters, tuned for handout-style composites.
const (
	DefaultMarginMM = 10.0
	DefaultGapMM    = 4.0
)

// Grid is the rows-by-columns shape of one sheet. Changing it never mutates
// the page collection, only how the collection is partitioned.
type Grid struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Capacity is the number of page slots per sheet.
func (g Grid) Capacity() int {
	return g.Rows * g.Cols
}

// Validate rejects grids with a dimension below 1.
func (g Grid) Validate() error {
	if g.Rows < 1 {
		return &ConfigError{Field: "rows", Value: strconv.Itoa(g.Rows), Reason: "must be at least 1"}
	}
	if g.Cols < 1 {
		return &ConfigError{Field: "cols", Value: strconv.Itoa(g.Cols), Reason: "must be at least 1"}
	}
	return nil
}

// Config is the validated layout surface consumed by pagination and
// composition: grid shape, paper selection, and sheet spacing.
type Config struct {
	Grid        Grid        `json:"grid"`
	Paper       PaperSize   `json:"paper"`
	Orientation Orientation `json:"orientation"`
	MarginMM    float64     `json:"margin_mm"`
	GapMM       float64     `json:"gap_mm"`
}

// Validate checks every field and returns the first violation. Nothing is
// defaulted here; unknown values are configuration errors, not data errors.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	d, err := Resolve(c.Paper, c.Orientation)
	if err != nil {
		return err
	}
	if c.MarginMM < 0 {
		return &ConfigError{Field: "margin_mm", Value: strconv.FormatFloat(c.MarginMM, 'f', -1, 64), Reason: "must not be negative"}
	}
	if c.GapMM < 0 {
		return &ConfigError{Field: "gap_mm", Value: strconv.FormatFloat(c.GapMM, 'f', -1, 64), Reason: "must not be negative"}
	}
	if _, err := CellRects(d, c.Grid, c.MarginMM, c.GapMM); err != nil {
		return err
	}
	return nil
}

// Dimensions resolves the physical sheet size for this configuration.
func (c Config) Dimensions() (Dimensions, error) {
	return Resolve(c.Paper, c.Orientation)
}
