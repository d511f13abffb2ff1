package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/local/sheetpack/internal/ingest"
	"github.com/local/sheetpack/internal/jobs"
	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/store"
)

type webQueue struct {
	mu         sync.Mutex
	enqueued   [][]byte
	enqueueErr error
	cancelled  []string
}

func (q *webQueue) Enqueue(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, payload)
	return nil
}

func (q *webQueue) CancelJob(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return nil
}

type webStatus struct {
	mu      sync.Mutex
	records map[string][]jobs.Status
}

func (s *webStatus) Set(_ context.Context, jobID string, st jobs.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[jobID] = append(s.records[jobID], st)
	return nil
}

func (s *webStatus) Get(_ context.Context, jobID string) (jobs.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[jobID]
	if len(recs) == 0 {
		return jobs.Status{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

type webResults struct {
	manifests map[string][]byte
	sheets    map[string]map[int]store.SheetRecord
}

func (r *webResults) GetManifest(_ context.Context, jobID string) ([]byte, error) {
	return r.manifests[jobID], nil
}

func (r *webResults) GetSheet(_ context.Context, jobID string, n int) (store.SheetRecord, bool, error) {
	rec, ok := r.sheets[jobID][n]
	return rec, ok, nil
}

type webLinks struct {
	m map[string]string
}

func (l *webLinks) SetSessionJob(_ context.Context, sessionID, jobID string) error {
	l.m[sessionID] = jobID
	return nil
}

func (l *webLinks) GetSessionJob(_ context.Context, sessionID string) (string, error) {
	return l.m[sessionID], nil
}

func testLayout() layout.Config {
	return layout.Config{
		Grid:        layout.Grid{Rows: 2, Cols: 2},
		Paper:       layout.A4,
		Orientation: layout.Portrait,
		MarginMM:    layout.DefaultMarginMM,
		GapMM:       layout.DefaultGapMM,
	}
}

type webEnv struct {
	web      *Web
	mux      *http.ServeMux
	queue    *webQueue
	status   *webStatus
	results  *webResults
	links    *webLinks
	sessions *jobs.Sessions
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	env := &webEnv{
		queue:    &webQueue{},
		status:   &webStatus{records: make(map[string][]jobs.Status)},
		results:  &webResults{manifests: make(map[string][]byte), sheets: make(map[string]map[int]store.SheetRecord)},
		links:    &webLinks{m: make(map[string]string)},
		sessions: jobs.NewSessions(time.Minute),
	}
	env.web = New(Config{
		UploadDir:     filepath.Join(t.TempDir(), "uploads"),
		DefaultLayout: testLayout(),
		DefaultBucket: "pages",
		PreviewDPI:    72,
	}, Dependencies{
		Queue:    env.queue,
		Status:   env.status,
		Results:  env.results,
		Sessions: env.sessions,
		Links:    env.links,
	})
	env.mux = http.NewServeMux()
	env.web.RegisterRoutes(env.mux)
	return env
}

func (e *webEnv) do(method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func writePagePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(5, 5, 35, 20), image.NewUniform(color.Black), image.Point{}, draw.Src)

	path := filepath.Join(t.TempDir(), "page.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// seedSession ingests n raster pages into a registry session and returns the
// page ids in order.
func seedSession(t *testing.T, env *webEnv, id string, n int) []string {
	t.Helper()
	sess := env.sessions.GetOrCreate(id, testLayout())
	inputs := make([]ingest.Input, n)
	for i := range inputs {
		inputs[i] = ingest.Input{Path: writePagePNG(t)}
	}
	rep, err := sess.Ingest(ingest.New(ingest.Options{}), inputs)
	require.NoError(t, err)
	require.Equal(t, n, rep.PagesDone)
	return rep.AppendedIDs
}

func TestComposeSubmitsJob(t *testing.T) {
	env := newWebEnv(t)

	rec := env.do(http.MethodPost, "/compose", strings.NewReader(`{
		"sources": [{"ref": "docs/deck.pdf", "select": "1-3"}],
		"manifest_only": true
	}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp composeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.JobID)
	require.NotEmpty(t, resp.SessionID)

	require.Len(t, env.queue.enqueued, 1)
	var req jobs.Request
	require.NoError(t, json.Unmarshal(env.queue.enqueued[0], &req))
	require.Equal(t, resp.JobID, req.JobID)
	require.Equal(t, resp.SessionID, req.SessionID)
	require.Equal(t, "job:"+resp.JobID, req.IdempotencyKey)
	require.True(t, req.ManifestOnly)

	// Bare object keys resolve against the default bucket.
	require.Equal(t, "s3://pages/docs/deck.pdf", req.Sources[0].Ref)
	require.Equal(t, "1-3", req.Sources[0].Select)

	st, ok, err := env.status.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "queued", st.Status)
	require.Equal(t, resp.SessionID, st.Metadata["session_id"])

	require.Equal(t, resp.JobID, env.links.m[resp.SessionID])
}

func TestComposeExistingLocalRefIsKept(t *testing.T) {
	env := newWebEnv(t)
	local := writePagePNG(t)

	rec := env.do(http.MethodPost, "/compose", strings.NewReader(`{"sources":[{"ref":"`+local+`"}]}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var req jobs.Request
	require.NoError(t, json.Unmarshal(env.queue.enqueued[0], &req))
	require.Equal(t, local, req.Sources[0].Ref)
}

func TestComposeValidation(t *testing.T) {
	env := newWebEnv(t)

	require.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/compose", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/compose", strings.NewReader("{broken")).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/compose", strings.NewReader(`{}`)).Code)

	rec := env.do(http.MethodPost, "/compose", strings.NewReader(`{"session_id":"s","layout":{"paper":"a9"}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid layout")

	require.Empty(t, env.queue.enqueued)
}

func TestComposeSessionOnlyRerender(t *testing.T) {
	env := newWebEnv(t)
	rec := env.do(http.MethodPost, "/compose", strings.NewReader(`{"session_id":"existing"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var req jobs.Request
	require.NoError(t, json.Unmarshal(env.queue.enqueued[0], &req))
	require.Equal(t, "existing", req.SessionID)
	require.Empty(t, req.Sources)
}

func TestComposeQueueUnavailable(t *testing.T) {
	env := newWebEnv(t)
	env.queue.enqueueErr = errors.New("redis down")

	rec := env.do(http.MethodPost, "/compose", strings.NewReader(`{"session_id":"s"}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "queue unavailable")
}

func TestNormalizeRef(t *testing.T) {
	env := newWebEnv(t)
	local := writePagePNG(t)

	require.Equal(t, "https://host/x.pdf", env.web.normalizeRef("https://host/x.pdf"))
	require.Equal(t, "s3://other/k.pdf", env.web.normalizeRef("s3://other/k.pdf"))
	require.Equal(t, local, env.web.normalizeRef(local))
	require.Equal(t, "s3://pages/folder/x.pdf", env.web.normalizeRef("folder/x.pdf"))
	require.Equal(t, "s3://pages/folder/x.pdf", env.web.normalizeRef("/folder/x.pdf"))

	bare := New(Config{DefaultLayout: testLayout()}, Dependencies{})
	require.Equal(t, "folder/x.pdf", bare.normalizeRef("folder/x.pdf"))
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	env := newWebEnv(t)
	body, ctype := multipartBody(t,
		map[string]string{"rows": "1", "cols": "1", "select": "2", "manifest_only": "on"},
		map[string][]byte{"deck.pdf": []byte("%PDF-1.4"), "notes.pdf": []byte("%PDF-1.4")},
	)

	req := httptest.NewRequest(http.MethodPost, "/compose/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var jreq jobs.Request
	require.NoError(t, json.Unmarshal(env.queue.enqueued[0], &jreq))
	require.Len(t, jreq.Sources, 2)
	require.True(t, jreq.ManifestOnly)
	require.NotNil(t, jreq.Layout)
	require.Equal(t, 1, jreq.Layout.Rows)
	require.Equal(t, 1, jreq.Layout.Cols)

	names := make([]string, 0, 2)
	for _, src := range jreq.Sources {
		require.True(t, strings.HasPrefix(src.Ref, "file://"), src.Ref)
		require.Equal(t, "2", src.Select)
		names = append(names, src.Name)

		data, err := os.ReadFile(strings.TrimPrefix(src.Ref, "file://"))
		require.NoError(t, err)
		require.Equal(t, []byte("%PDF-1.4"), data)
	}
	require.ElementsMatch(t, []string{"deck.pdf", "notes.pdf"}, names)
}

func TestUploadValidation(t *testing.T) {
	env := newWebEnv(t)

	body, ctype := multipartBody(t, map[string]string{"rows": "two"}, map[string][]byte{"a.pdf": []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/compose/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not a number")

	body, ctype = multipartBody(t, map[string]string{"rows": "2"}, nil)
	req = httptest.NewRequest(http.MethodPost, "/compose/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "missing file")
}

func TestJobProgress(t *testing.T) {
	env := newWebEnv(t)
	start := time.Now()
	require.NoError(t, env.status.Set(context.Background(), "j1", jobs.Status{
		Status:   "running",
		Progress: 42,
		Message:  "rendered 3 of 7 pages",
		Start:    &start,
	}))

	rec := env.do(http.MethodGet, "/jobs/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, false, got["success"])
	require.Equal(t, "running", got["status"])
	require.Equal(t, float64(42), got["progress"])
	require.Equal(t, "rendered 3 of 7 pages", got["message"])

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/jobs/unknown", nil).Code)
}

func TestJobManifest(t *testing.T) {
	env := newWebEnv(t)
	env.results.manifests["j1"] = []byte(`{"page_count":2}`)

	rec := env.do(http.MethodGet, "/jobs/j1/manifest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"page_count":2}`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/jobs/j2/manifest", nil).Code)
}

func TestJobSheet(t *testing.T) {
	env := newWebEnv(t)
	path := filepath.Join(t.TempDir(), "sheet.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o644))
	env.results.sheets["j1"] = map[int]store.SheetRecord{2: {Number: 2, Path: path, Pages: 3}}

	rec := env.do(http.MethodGet, "/jobs/j1/sheets/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "inline; filename=sheet_j1_002.png", rec.Header().Get("Content-Disposition"))
	require.Equal(t, "png-bytes", rec.Body.String())

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/jobs/j1/sheets/zero", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/jobs/j1/sheets/0", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/jobs/j1/sheets/9", nil).Code)
}

func TestCancel(t *testing.T) {
	env := newWebEnv(t)

	rec := env.do(http.MethodPost, "/jobs/cancel", strings.NewReader(`{"job_id":"j1","reason":"operator"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, true, got["success"])
	require.Equal(t, []string{"j1"}, env.queue.cancelled)

	st, ok, err := env.status.Get(context.Background(), "j1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cancelled", st.Status)
	require.Equal(t, 100, st.Progress)
	require.Equal(t, "cancelled: operator", st.Message)

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/jobs/cancel", strings.NewReader(`{}`)).Code)
	require.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/jobs/cancel", nil).Code)
}

func TestSessionManifest(t *testing.T) {
	env := newWebEnv(t)
	seedSession(t, env, "s1", 3)

	for _, path := range []string{"/sessions/s1", "/sessions/s1/manifest"} {
		rec := env.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var m jobs.Manifest
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
		require.Equal(t, "s1", m.SessionID)
		require.Equal(t, 3, m.PageCount)
		require.Equal(t, 1, m.SheetCount)
	}

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/sessions/missing", nil).Code)
}

func TestSessionEdits(t *testing.T) {
	env := newWebEnv(t)
	ids := seedSession(t, env, "s1", 3)

	rec := env.do(http.MethodPost, "/sessions/s1/pages/move", strings.NewReader(`{"page_id":"`+ids[2]+`","index":0}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var edit map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edit))
	require.Equal(t, true, edit["success"])
	require.Equal(t, float64(3), edit["page_count"])
	require.Equal(t, float64(1), edit["sheet_count"])

	var m jobs.Manifest
	rec = env.do(http.MethodGet, "/sessions/s1/manifest", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, ids[2], m.Sheets[0].Pages[0].ID)

	// Unknown page ids are reported, not errored.
	rec = env.do(http.MethodPost, "/sessions/s1/pages/move", strings.NewReader(`{"page_id":"ghost","index":0}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edit))
	require.Equal(t, false, edit["success"])

	rec = env.do(http.MethodPost, "/sessions/s1/pages/remove", strings.NewReader(`{"page_id":"`+ids[0]+`"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edit))
	require.Equal(t, true, edit["success"])
	require.Equal(t, float64(2), edit["page_count"])

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/sessions/s1/pages/move", strings.NewReader(`{"index":1}`)).Code)
}

func TestSessionGrid(t *testing.T) {
	env := newWebEnv(t)
	seedSession(t, env, "s1", 3)

	rec := env.do(http.MethodPost, "/sessions/s1/grid", strings.NewReader(`{"rows":1,"cols":1}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var m jobs.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, 3, m.SheetCount)
	require.Equal(t, 1, m.Layout.Rows)

	sess, ok := env.sessions.Get("s1")
	require.True(t, ok)
	require.Equal(t, layout.Grid{Rows: 1, Cols: 1}, sess.Layout().Grid)

	rec = env.do(http.MethodPost, "/sessions/s1/grid", strings.NewReader(`{"rows":0,"cols":-1}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid layout")
}

func TestSessionPreview(t *testing.T) {
	env := newWebEnv(t)
	seedSession(t, env, "s1", 2)

	rec := env.do(http.MethodGet, "/sessions/s1/preview/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 595, img.Bounds().Dx())
	require.Equal(t, 841, img.Bounds().Dy())

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/sessions/s1/preview/9", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/sessions/s1/preview/first", nil).Code)
}

func TestSessionJobLink(t *testing.T) {
	env := newWebEnv(t)
	seedSession(t, env, "s1", 1)
	env.links.m["s1"] = "j9"

	rec := env.do(http.MethodGet, "/sessions/s1/job", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "j9", got["job_id"])

	seedSession(t, env, "s2", 1)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/sessions/s2/job", nil).Code)
}

func TestHealth(t *testing.T) {
	env := newWebEnv(t)

	rec := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	// Without a checker wired, healthz degrades to a plain liveness probe.
	rec = env.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
