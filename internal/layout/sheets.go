package layout

import "github.com/local/sheetpack/internal/page"

// Sheet is one derived printable unit: a contiguous run of the collection no
// longer than the grid capacity, numbered 1-based in output order. Sheets are
// views over the input ordering, recomputed whenever the collection or the
// grid changes; they are never patched in place, because a single move can
// shift the sheet membership of every later page.
type Sheet struct {
	Number int
	Pages  []page.Page
}

// Paginate partitions pages into sheets of at most capacity entries each.
// The function is pure: identical inputs always produce identical output,
// zero pages produce zero sheets, and concatenating the sheets' pages
// reconstructs the input exactly. Capacity below 1 is rejected by Config
// validation before pagination ever runs; Paginate returns nil for it.
func Paginate(pages []page.Page, capacity int) []Sheet {
	if capacity < 1 || len(pages) == 0 {
		return nil
	}
	count := (len(pages) + capacity - 1) / capacity
	sheets := make([]Sheet, 0, count)
	for k := 0; k < count; k++ {
		start := k * capacity
		end := start + capacity
		if end > len(pages) {
			end = len(pages)
		}
		sheets = append(sheets, Sheet{
			Number: k + 1,
			Pages:  pages[start:end:end],
		})
	}
	return sheets
}

// SheetCount reports how many sheets Paginate would produce.
func SheetCount(pageCount, capacity int) int {
	if capacity < 1 || pageCount <= 0 {
		return 0
	}
	return (pageCount + capacity - 1) / capacity
}
