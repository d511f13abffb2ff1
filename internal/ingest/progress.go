package ingest

import "sync/atomic"

// Progress is a monotonically increasing count of successfully rendered
// pages. Rendering is sequential, so a concurrent reader always observes a
// prefix count of the pages completed so far; the count never skips and
// never double-counts.
type Progress struct {
	n atomic.Uint64
}

func (p *Progress) add() {
	p.n.Add(1)
}

// Count returns the pages rendered so far.
func (p *Progress) Count() uint64 {
	return p.n.Load()
}
