// Package collection holds the authoritative ordered sequence of ingested
// pages. Order is purely positional and semantically significant: it defines
// sheet assignment. Exactly three mutations exist: append-batch, remove and
// move. The collection does no locking of its own; all mutations are expected
// from a single logical thread of control, and callers that expose a
// collection to concurrent access must serialize the three operations as a
// group.
package collection

import (
	"fmt"

	"github.com/local/sheetpack/internal/page"
)

// Collection is an ordered sequence of pages with unique ids.
type Collection struct {
	pages []page.Page
	ids   map[string]struct{}
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{ids: make(map[string]struct{})}
}

// Append inserts the batch at the tail, preserving its internal order.
// A duplicate id is a misuse of the id generator and is reported as an
// error before anything from the batch is inserted; the collection is
// unchanged in that case.
func (c *Collection) Append(batch ...page.Page) error {
	seen := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		if _, ok := c.ids[p.ID]; ok {
			return fmt.Errorf("duplicate page id %q", p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("duplicate page id %q within batch", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	for _, p := range batch {
		c.pages = append(c.pages, p)
		c.ids[p.ID] = struct{}{}
	}
	return nil
}

// Remove deletes the page with the given id and reports whether the
// collection changed. Absent ids are a no-op. The removed page's bitmap
// reference is dropped so the backing pixels can be reclaimed.
func (c *Collection) Remove(id string) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	copy(c.pages[i:], c.pages[i+1:])
	c.pages[len(c.pages)-1] = page.Page{}
	c.pages = c.pages[:len(c.pages)-1]
	delete(c.ids, id)
	return true
}

// Move relocates the page with the given id to targetIndex, shifting the
// pages in between and leaving the relative order of everything else
// untouched. The target is clamped to the valid range after removal.
// Reports whether the collection changed; absent ids and moves to the
// current position are no-ops.
func (c *Collection) Move(id string, targetIndex int) bool {
	from := c.indexOf(id)
	if from < 0 {
		return false
	}
	to := targetIndex
	if to < 0 {
		to = 0
	}
	if max := len(c.pages) - 1; to > max {
		to = max
	}
	if to == from {
		return false
	}
	p := c.pages[from]
	if to < from {
		copy(c.pages[to+1:from+1], c.pages[to:from])
	} else {
		copy(c.pages[from:to], c.pages[from+1:to+1])
	}
	c.pages[to] = p
	return true
}

// Len returns the number of pages.
func (c *Collection) Len() int {
	return len(c.pages)
}

// At returns the page at index i.
func (c *Collection) At(i int) (page.Page, bool) {
	if i < 0 || i >= len(c.pages) {
		return page.Page{}, false
	}
	return c.pages[i], true
}

// IndexOf returns the current index of the page with the given id, or -1.
func (c *Collection) IndexOf(id string) int {
	return c.indexOf(id)
}

// Pages returns the pages in order. The returned slice is a copy; mutating
// it does not affect the collection.
func (c *Collection) Pages() []page.Page {
	out := make([]page.Page, len(c.pages))
	copy(out, c.pages)
	return out
}

// IDs returns the page ids in order.
func (c *Collection) IDs() []string {
	out := make([]string, len(c.pages))
	for i, p := range c.pages {
		out[i] = p.ID
	}
	return out
}

func (c *Collection) indexOf(id string) int {
	for i, p := range c.pages {
		if p.ID == id {
			return i
		}
	}
	return -1
}
