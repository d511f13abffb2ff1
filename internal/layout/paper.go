// Package layout maps the ordered page collection onto printable sheets:
// paper geometry, grid shape, pure pagination, and the per-slot cell
// rectangles used when compositing pages onto a sheet.
package layout

import (
	"sort"
	"strings"
)

// PaperSize names one of the supported physical paper formats.
type PaperSize string

const (
	A4     PaperSize = "a4"
	A3     PaperSize = "a3"
	B4     PaperSize = "b4"
	B5     PaperSize = "b5"
	Letter PaperSize = "letter"
)

// Orientation selects which way the paper is turned.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// Dimensions is a physical width/height pair in millimeters.
type Dimensions struct {
	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`
}

// Portrait dimensions per size. B4 is the JIS sheet, B5 the ISO one; the
// numbers are deliberate and load-bearing for print sizing.
var portraitMM = map[PaperSize]Dimensions{
	A4:     {WidthMM: 210, HeightMM: 297},
	A3:     {WidthMM: 297, HeightMM: 420},
	B4:     {WidthMM: 257, HeightMM: 364},
	B5:     {WidthMM: 176, HeightMM: 250},
	Letter: {WidthMM: 215.9, HeightMM: 279.4},
}

// ParsePaperSize validates a paper-size name, case-insensitively.
func ParsePaperSize(s string) (PaperSize, error) {
	size := PaperSize(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := portraitMM[size]; !ok {
		return "", &ConfigError{Field: "paper_size", Value: s, Reason: "must be one of " + strings.Join(PaperSizes(), ", ")}
	}
	return size, nil
}

// ParseOrientation validates an orientation name, case-insensitively.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(strings.ToLower(strings.TrimSpace(s))) {
	case Portrait:
		return Portrait, nil
	case Landscape:
		return Landscape, nil
	}
	return "", &ConfigError{Field: "orientation", Value: s, Reason: "must be portrait or landscape"}
}

// Resolve returns the physical dimensions for a paper size and orientation.
// Landscape returns the portrait pair with width and height swapped.
func Resolve(size PaperSize, o Orientation) (Dimensions, error) {
	d, ok := portraitMM[size]
	if !ok {
		return Dimensions{}, &ConfigError{Field: "paper_size", Value: string(size), Reason: "unknown size"}
	}
	switch o {
	case Portrait:
		return d, nil
	case Landscape:
		return Dimensions{WidthMM: d.HeightMM, HeightMM: d.WidthMM}, nil
	}
	return Dimensions{}, &ConfigError{Field: "orientation", Value: string(o), Reason: "must be portrait or landscape"}
}

// PaperSizes lists the supported size names in stable order.
func PaperSizes() []string {
	names := make([]string, 0, len(portraitMM))
	for size := range portraitMM {
		names = append(names, string(size))
	}
	sort.Strings(names)
	return names
}
