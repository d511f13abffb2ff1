// Package web is the HTTP surface: job submission over JSON or multipart
// upload, job progress and results, and the synchronous session edits that
// reorder pages between composes.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/compose"
	"github.com/local/sheetpack/internal/jobs"
	"github.com/local/sheetpack/internal/layout"
	"github.com/local/sheetpack/internal/statuscheck"
	"github.com/local/sheetpack/internal/store"
)

// Queue is the submitting side of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
}

// Results reads persisted job output.
type Results interface {
	GetManifest(ctx context.Context, jobID string) ([]byte, error)
	GetSheet(ctx context.Context, jobID string, n int) (store.SheetRecord, bool, error)
}

// SessionLinks maps a session to its most recent job.
type SessionLinks interface {
	SetSessionJob(ctx context.Context, sessionID, jobID string) error
	GetSessionJob(ctx context.Context, sessionID string) (string, error)
}

// Config tunes the HTTP layer.
type Config struct {
	UploadDir     string
	DefaultLayout layout.Config
	DefaultBucket string
	PreviewDPI    float64
	Trim          bool
	TrimThreshold uint8
}

// Dependencies wires the handlers. Links and Checker may be nil.
type Dependencies struct {
	Queue    Queue
	Status   jobs.StatusStore
	Results  Results
	Sessions *jobs.Sessions
	Links    SessionLinks
	Checker  *statuscheck.Checker
}

type Web struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Web {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.PreviewDPI <= 0 {
		cfg.PreviewDPI = compose.DefaultDPI
	}
	return &Web{cfg: cfg, deps: deps}
}

func (h *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/compose", h.handleCompose)
	mux.HandleFunc("/compose/upload", h.handleUpload)
	mux.HandleFunc("/jobs/cancel", h.handleCancel)
	mux.HandleFunc("/jobs/", h.handleJob)
	mux.HandleFunc("/sessions/", h.handleSession)
}

type composeReq struct {
	SessionID    string            `json:"session_id"`
	Sources      []jobs.SourceSpec `json:"sources"`
	Layout       *jobs.LayoutSpec  `json:"layout"`
	ManifestOnly bool              `json:"manifest_only"`
	Publish      bool              `json:"publish"`
}

type composeResp struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *Web) handleCompose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req composeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Sources) == 0 && req.SessionID == "" {
		http.Error(w, "missing sources or session_id", http.StatusBadRequest)
		return
	}
	// Reject a bad layout here, before the job is queued.
	if _, err := jobs.ResolveLayout(h.cfg.DefaultLayout, req.Layout); err != nil {
		http.Error(w, fmt.Sprintf("invalid layout: %v", err), http.StatusBadRequest)
		return
	}
	for i := range req.Sources {
		req.Sources[i].Ref = h.normalizeRef(req.Sources[i].Ref)
	}
	h.submit(w, r, jobs.Request{
		SessionID:    req.SessionID,
		Sources:      req.Sources,
		Layout:       req.Layout,
		ManifestOnly: req.ManifestOnly,
		Publish:      req.Publish,
	})
}

// handleUpload accepts multipart uploads, persists them next to the service,
// and queues the same compose flow over file refs.
func (h *Web) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}

	batch := uuid.NewString()
	sel := r.FormValue("select")
	sources := make([]jobs.SourceSpec, 0, len(files))
	for _, hdr := range files {
		f, err := hdr.Open()
		if err != nil {
			http.Error(w, "upload read failed", http.StatusBadRequest)
			return
		}
		name := hdr.Filename
		if name == "" {
			name = "upload.pdf"
		}
		localPath := filepath.Join(h.cfg.UploadDir, fmt.Sprintf("%s_%s", batch, filepath.Base(name)))
		out, err := os.Create(localPath)
		if err != nil {
			f.Close()
			http.Error(w, "cannot save upload", http.StatusInternalServerError)
			return
		}
		_, err = io.Copy(out, f)
		f.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			http.Error(w, "write failed", http.StatusInternalServerError)
			return
		}
		sources = append(sources, jobs.SourceSpec{Ref: "file://" + localPath, Name: name, Select: sel})
	}

	spec, err := layoutFromForm(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid layout: %v", err), http.StatusBadRequest)
		return
	}
	if _, err := jobs.ResolveLayout(h.cfg.DefaultLayout, spec); err != nil {
		http.Error(w, fmt.Sprintf("invalid layout: %v", err), http.StatusBadRequest)
		return
	}

	h.submit(w, r, jobs.Request{
		SessionID:    r.FormValue("session_id"),
		Sources:      sources,
		Layout:       spec,
		ManifestOnly: formBool(r, "manifest_only"),
		Publish:      formBool(r, "publish"),
	})
}

// submit assigns ids, records the queued status, links the session to its
// job, and enqueues the request.
func (h *Web) submit(w http.ResponseWriter, r *http.Request, req jobs.Request) {
	req.JobID = uuid.NewString()
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "job:" + req.JobID
	}

	start := time.Now()
	_ = h.deps.Status.Set(r.Context(), req.JobID, jobs.Status{
		Status:   "queued",
		Progress: 0,
		Message:  "queued",
		Start:    &start,
		Metadata: map[string]interface{}{"session_id": req.SessionID, "sources": len(req.Sources)},
	})
	if h.deps.Links != nil {
		_ = h.deps.Links.SetSessionJob(r.Context(), req.SessionID, req.JobID)
	}

	payload, _ := json.Marshal(req)
	if err := h.deps.Queue.Enqueue(r.Context(), payload); err != nil {
		log.Error().Err(err).Msg("enqueue failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", req.JobID).Str("session_id", req.SessionID).
		Int("sources", len(req.Sources)).Msg("compose job queued")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(composeResp{
		Status:    "ok",
		JobID:     req.JobID,
		SessionID: req.SessionID,
		Message:   "compose job created",
	})
}

// normalizeRef resolves bare object keys against the default bucket, the way
// callers pass "folder/file.pdf" and mean the standard bucket.
func (h *Web) normalizeRef(ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	if h.cfg.DefaultBucket != "" {
		return fmt.Sprintf("s3://%s/%s", h.cfg.DefaultBucket, strings.TrimPrefix(ref, "/"))
	}
	return ref
}

func (h *Web) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		h.jobProgress(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "manifest":
		h.jobManifest(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "sheets":
		h.jobSheet(w, r, parts[0], parts[2])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Web) jobProgress(w http.ResponseWriter, r *http.Request, jobID string) {
	st, ok, err := h.deps.Status.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    st.Status == "success",
		"job_id":     jobID,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

func (h *Web) jobManifest(w http.ResponseWriter, r *http.Request, jobID string) {
	data, err := h.deps.Results.GetManifest(r.Context(), jobID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if data == nil {
		http.Error(w, "manifest not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *Web) jobSheet(w http.ResponseWriter, r *http.Request, jobID, nStr string) {
	n, err := strconv.Atoi(nStr)
	if err != nil || n < 1 {
		http.Error(w, "invalid sheet number", http.StatusBadRequest)
		return
	}
	rec, ok, err := h.deps.Results.GetSheet(r.Context(), jobID, n)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "sheet not found", http.StatusNotFound)
		return
	}
	b, err := os.ReadFile(rec.Path)
	if err != nil {
		http.Error(w, "sheet file missing", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=sheet_%s_%03d.png", jobID, n))
	_, _ = w.Write(b)
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (h *Web) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	if err := h.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	msg := "cancelled"
	if req.Reason != "" {
		msg = "cancelled: " + req.Reason
	}
	now := time.Now()
	_ = h.deps.Status.Set(r.Context(), req.JobID, jobs.Status{Status: "cancelled", Progress: 100, Message: msg, End: &now})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "job_id": req.JobID, "status": "cancelled"})
}

func (h *Web) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	sess, ok := h.deps.Sessions.Get(parts[0])
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.sessionManifest(w, sess)
	case len(parts) == 2 && parts[1] == "manifest" && r.Method == http.MethodGet:
		h.sessionManifest(w, sess)
	case len(parts) == 2 && parts[1] == "job" && r.Method == http.MethodGet:
		h.sessionJob(w, r, sess.ID)
	case len(parts) == 2 && parts[1] == "grid" && r.Method == http.MethodPost:
		h.sessionGrid(w, r, sess)
	case len(parts) == 3 && parts[1] == "preview" && r.Method == http.MethodGet:
		h.sessionPreview(w, sess, parts[2])
	case len(parts) == 3 && parts[1] == "pages" && parts[2] == "move" && r.Method == http.MethodPost:
		h.sessionMove(w, r, sess)
	case len(parts) == 3 && parts[1] == "pages" && parts[2] == "remove" && r.Method == http.MethodPost:
		h.sessionRemove(w, r, sess)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Web) sessionManifest(w http.ResponseWriter, sess *jobs.Session) {
	m, err := sess.Manifest()
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m)
}

func (h *Web) sessionJob(w http.ResponseWriter, r *http.Request, sessionID string) {
	if h.deps.Links == nil {
		http.Error(w, "not available", http.StatusNotFound)
		return
	}
	jobID, err := h.deps.Links.GetSessionJob(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if jobID == "" {
		http.Error(w, "no job for session", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"session_id": sessionID, "job_id": jobID})
}

func (h *Web) sessionPreview(w http.ResponseWriter, sess *jobs.Session, nStr string) {
	n, err := strconv.Atoi(nStr)
	if err != nil || n < 1 {
		http.Error(w, "invalid sheet number", http.StatusBadRequest)
		return
	}
	png, err := sess.RenderSheet(n, compose.Options{
		DPI:           h.cfg.PreviewDPI,
		Trim:          h.cfg.Trim,
		TrimThreshold: h.cfg.TrimThreshold,
		Ordinals:      true,
		Footer:        true,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

type moveReq struct {
	PageID string `json:"page_id"`
	Index  int    `json:"index"`
}

func (h *Web) sessionMove(w http.ResponseWriter, r *http.Request, sess *jobs.Session) {
	var req moveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.PageID == "" {
		http.Error(w, "missing page_id", http.StatusBadRequest)
		return
	}
	h.editResult(w, sess, sess.MovePage(req.PageID, req.Index))
}

type removeReq struct {
	PageID string `json:"page_id"`
}

func (h *Web) sessionRemove(w http.ResponseWriter, r *http.Request, sess *jobs.Session) {
	var req removeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.PageID == "" {
		http.Error(w, "missing page_id", http.StatusBadRequest)
		return
	}
	h.editResult(w, sess, sess.RemovePage(req.PageID))
}

// editResult reports an edit together with the session's new shape. Unknown
// page ids are a quiet no-op, flagged by success=false.
func (h *Web) editResult(w http.ResponseWriter, sess *jobs.Session, changed bool) {
	lc := sess.Layout()
	n := sess.PageCount()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     changed,
		"page_count":  n,
		"sheet_count": layout.SheetCount(n, lc.Grid.Capacity()),
	})
}

func (h *Web) sessionGrid(w http.ResponseWriter, r *http.Request, sess *jobs.Session) {
	var spec jobs.LayoutSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	lc, err := jobs.ResolveLayout(sess.Layout(), &spec)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid layout: %v", err), http.StatusBadRequest)
		return
	}
	if err := sess.SetLayout(lc); err != nil {
		http.Error(w, fmt.Sprintf("invalid layout: %v", err), http.StatusBadRequest)
		return
	}
	h.sessionManifest(w, sess)
}

func (h *Web) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Checker == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	sum := h.deps.Checker.Summary(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sum)
}

func layoutFromForm(r *http.Request) (*jobs.LayoutSpec, error) {
	spec := &jobs.LayoutSpec{
		Paper:       r.FormValue("paper"),
		Orientation: r.FormValue("orientation"),
		Auto:        formBool(r, "auto_grid"),
	}
	set := spec.Paper != "" || spec.Orientation != "" || spec.Auto
	for _, f := range []struct {
		key string
		dst *int
	}{{"rows", &spec.Rows}, {"cols", &spec.Cols}} {
		v := r.FormValue(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", f.key, v)
		}
		*f.dst = n
		set = true
	}
	for _, f := range []struct {
		key string
		dst **float64
	}{{"margin_mm", &spec.MarginMM}, {"gap_mm", &spec.GapMM}} {
		v := r.FormValue(f.key)
		if v == "" {
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", f.key, v)
		}
		*f.dst = &x
		set = true
	}
	if !set {
		return nil, nil
	}
	return spec, nil
}

func formBool(r *http.Request, key string) bool {
	v := r.FormValue(key)
	return v == "on" || v == "true" || v == "1"
}
