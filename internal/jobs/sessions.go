// Package jobs runs compose jobs: it fetches sources, feeds them through the
// ingest pipeline into a per-session page collection, and renders the
// resulting sheets. Jobs arrive over the queue or directly from the HTTP
// layer; sessions live in memory and hold the mutable page order between
// jobs.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/local/sheetpack/internal/collection"
	"github.com/local/sheetpack/internal/compose"
	"github.com/local/sheetpack/internal/ingest"
	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/page"
)

// Session owns one live page collection and the layout it is composed with.
// Every operation takes the session mutex, and ingestion holds it for the
// whole batch: edits and reads never observe a half-appended batch.
type Session struct {
	ID string

	mu   sync.Mutex
	coll *collection.Collection
	ids  *page.IDSource
	lc   layout.Config

	touched time.Time // guarded by the registry mutex, not mu
}

func newSession(id string, lc layout.Config) *Session {
	return &Session{
		ID:   id,
		coll: collection.New(),
		ids:  &page.IDSource{},
		lc:   lc,
	}
}

// Ingest runs one pipeline batch against this session's collection. The
// session stays locked until the batch finishes, so progress is observed
// through the pipeline's counter, never through the collection.
func (s *Session) Ingest(p *ingest.Pipeline, inputs []ingest.Input) (*ingest.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Run(s.coll, s.ids, inputs)
}

// DropPages removes the given pages, restoring the pre-batch order after an
// abandoned job. Returns how many were actually present.
func (s *Session) DropPages(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if s.coll.Remove(id) {
			n++
		}
	}
	return n
}

// MovePage moves a page to targetIndex, clamping out-of-range targets.
// Reports whether the page exists.
func (s *Session) MovePage(id string, targetIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Move(id, targetIndex)
}

// RemovePage removes a page. Reports whether it was present.
func (s *Session) RemovePage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Remove(id)
}

// PageCount returns the number of pages currently held.
func (s *Session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Len()
}

// Layout returns the session's current sheet geometry.
func (s *Session) Layout() layout.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lc
}

// SetLayout replaces the sheet geometry. Invalid configurations are
// rejected and the previous geometry stays in place.
func (s *Session) SetLayout(lc layout.Config) error {
	if err := lc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.lc = lc
	s.mu.Unlock()
	return nil
}

// SetGrid changes only the grid, keeping paper, orientation and margins.
func (s *Session) SetGrid(g layout.Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc := s.lc
	lc.Grid = g
	if err := lc.Validate(); err != nil {
		return err
	}
	s.lc = lc
	return nil
}

// Manifest recomputes the sheet partition from the current page order.
func (s *Session) Manifest() (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildManifest(s.ID, s.lc, s.coll.Pages())
}

// RenderSheet composes sheet n (1-based) against the current page order and
// returns it PNG-encoded. The partition is re-derived on every call, so the
// sheet always reflects the latest edits.
func (s *Session) RenderSheet(n int, opts compose.Options) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheets := layout.Paginate(s.coll.Pages(), s.lc.Grid.Capacity())
	if n < 1 || n > len(sheets) {
		return nil, fmt.Errorf("sheet %d out of range, have %d", n, len(sheets))
	}
	r, err := compose.New(s.lc, opts)
	if err != nil {
		return nil, err
	}
	img, err := r.Sheet(sheets[n-1], len(sheets))
	if err != nil {
		return nil, err
	}
	return compose.EncodePNG(img)
}

// Sessions is the in-memory registry of live sessions. Collections exist
// only here; eviction discards their pages for good.
type Sessions struct {
	mu  sync.Mutex
	m   map[string]*Session
	ttl time.Duration
}

// NewSessions builds a registry whose sessions idle out after ttl.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{m: make(map[string]*Session), ttl: ttl}
}

// Get returns a live session and refreshes its idle clock.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if ok {
		s.touched = time.Now()
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating it with the given layout
// when missing. An empty id allocates a fresh session.
func (r *Sessions) GetOrCreate(id string, lc layout.Config) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	s, ok := r.m[id]
	if !ok {
		s = newSession(id, lc)
		r.m[id] = s
	}
	s.touched = time.Now()
	return s
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// TTL returns the configured idle timeout.
func (r *Sessions) TTL() time.Duration { return r.ttl }

// Evict drops sessions idle past the TTL. A session whose mutex is held has
// a batch in flight and is skipped until the next sweep.
func (r *Sessions) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.ttl)
	n := 0
	for id, s := range r.m {
		if s.touched.After(cutoff) {
			continue
		}
		if !s.mu.TryLock() {
			continue
		}
		s.mu.Unlock()
		delete(r.m, id)
		n++
	}
	return n
}
