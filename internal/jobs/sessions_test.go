package jobs

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/local/sheetpack/internal/compose"
	"github.com/local/sheetpack/internal/ingest"
	"github.com/local/sheetpack/internal/layout"
)

// seedSession ingests n raster pages into a fresh session.
func seedSession(t *testing.T, n int) *Session {
	t.Helper()
	sess := newSession("sess", testLayout())
	inputs := make([]ingest.Input, n)
	for i := range inputs {
		inputs[i] = ingest.Input{Path: writePagePNG(t, "page.png"), Name: pageName(i)}
	}
	rep, err := sess.Ingest(ingest.New(ingest.Options{}), inputs)
	require.NoError(t, err)
	require.Equal(t, n, rep.PagesDone)
	return sess
}

func pageName(i int) string {
	return string(rune('a'+i)) + ".png"
}

func TestSessionIngestAndManifest(t *testing.T) {
	sess := seedSession(t, 2)
	require.Equal(t, 2, sess.PageCount())

	m, err := sess.Manifest()
	require.NoError(t, err)
	require.Equal(t, "sess", m.SessionID)
	require.Equal(t, 2, m.PageCount)
	require.Equal(t, 1, m.SheetCount)
	require.Equal(t, "a.png#1", m.Sheets[0].Pages[0].Source)
	require.Equal(t, "b.png#1", m.Sheets[0].Pages[1].Source)
	require.Equal(t, 1, m.Sheets[0].Pages[0].Ordinal)
	require.Equal(t, 2, m.Sheets[0].Pages[1].Ordinal)
	require.Equal(t, 40, m.Sheets[0].Pages[0].Width)
	require.Equal(t, 60, m.Sheets[0].Pages[0].Height)

	require.Equal(t, 2, m.Layout.Rows)
	require.Equal(t, "a4", m.Layout.Paper)
	require.Equal(t, 210.0, m.Layout.WidthMM)
}

func TestSessionEdits(t *testing.T) {
	sess := seedSession(t, 3)

	m, err := sess.Manifest()
	require.NoError(t, err)
	ids := make([]string, 0, 3)
	for _, p := range m.Sheets[0].Pages {
		ids = append(ids, p.ID)
	}

	require.True(t, sess.MovePage(ids[2], 0))
	m, err = sess.Manifest()
	require.NoError(t, err)
	require.Equal(t, ids[2], m.Sheets[0].Pages[0].ID)

	require.True(t, sess.RemovePage(ids[0]))
	require.False(t, sess.RemovePage(ids[0]))
	require.Equal(t, 2, sess.PageCount())

	require.Equal(t, 1, sess.DropPages([]string{ids[1], "never-existed"}))
	require.Equal(t, 1, sess.PageCount())
}

func TestSessionSetLayout(t *testing.T) {
	sess := newSession("s", testLayout())

	lc := testLayout()
	lc.Grid = layout.Grid{Rows: 1, Cols: 1}
	require.NoError(t, sess.SetLayout(lc))
	require.Equal(t, layout.Grid{Rows: 1, Cols: 1}, sess.Layout().Grid)

	bad := testLayout()
	bad.MarginMM = -1
	require.Error(t, sess.SetLayout(bad))
	// The rejected geometry never replaces the current one.
	require.Equal(t, layout.Grid{Rows: 1, Cols: 1}, sess.Layout().Grid)
}

func TestSessionSetGrid(t *testing.T) {
	sess := newSession("s", testLayout())

	require.NoError(t, sess.SetGrid(layout.Grid{Rows: 3, Cols: 3}))
	require.Equal(t, layout.Grid{Rows: 3, Cols: 3}, sess.Layout().Grid)
	require.Equal(t, layout.A4, sess.Layout().Paper)

	require.Error(t, sess.SetGrid(layout.Grid{Rows: 0, Cols: 3}))
	require.Equal(t, layout.Grid{Rows: 3, Cols: 3}, sess.Layout().Grid)
}

func TestSessionRenderSheet(t *testing.T) {
	sess := seedSession(t, 2)

	data, err := sess.RenderSheet(1, compose.Options{DPI: 72})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 595, img.Bounds().Dx())
	require.Equal(t, 841, img.Bounds().Dy())

	_, err = sess.RenderSheet(2, compose.Options{DPI: 72})
	require.EqualError(t, err, "sheet 2 out of range, have 1")
	_, err = sess.RenderSheet(0, compose.Options{DPI: 72})
	require.Error(t, err)
}

func TestSessionsRegistry(t *testing.T) {
	reg := NewSessions(time.Minute)

	a := reg.GetOrCreate("a", testLayout())
	require.Equal(t, "a", a.ID)
	require.Same(t, a, reg.GetOrCreate("a", testLayout()))
	require.NotSame(t, a, reg.GetOrCreate("b", testLayout()))
	require.Equal(t, 2, reg.Len())

	fresh := reg.GetOrCreate("", testLayout())
	require.NotEmpty(t, fresh.ID)
	require.Equal(t, 3, reg.Len())

	got, ok := reg.Get("a")
	require.True(t, ok)
	require.Same(t, a, got)

	_, ok = reg.Get("missing")
	require.False(t, ok)
}

func TestSessionsEvict(t *testing.T) {
	reg := NewSessions(time.Minute)
	stale := reg.GetOrCreate("stale", testLayout())
	reg.GetOrCreate("fresh", testLayout())

	reg.mu.Lock()
	stale.touched = time.Now().Add(-2 * time.Minute)
	reg.mu.Unlock()

	require.Equal(t, 1, reg.Evict())
	require.Equal(t, 1, reg.Len())
	_, ok := reg.Get("stale")
	require.False(t, ok)
}

func TestSessionsEvictSkipsBusy(t *testing.T) {
	reg := NewSessions(time.Minute)
	busy := reg.GetOrCreate("busy", testLayout())

	reg.mu.Lock()
	busy.touched = time.Now().Add(-2 * time.Minute)
	reg.mu.Unlock()

	// A held session mutex means a batch is in flight; the sweep leaves it.
	busy.mu.Lock()
	require.Zero(t, reg.Evict())
	require.Equal(t, 1, reg.Len())
	busy.mu.Unlock()

	require.Equal(t, 1, reg.Evict())
	require.Zero(t, reg.Len())
}

func TestSessionsDefaultTTL(t *testing.T) {
	require.Equal(t, 30*time.Minute, NewSessions(0).TTL())
	require.Equal(t, time.Hour, NewSessions(time.Hour).TTL())
}
