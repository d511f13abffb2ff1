package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/metrics"
)

// Gate guards remote fetches: a per-scope circuit breaker plus an in-process
// concurrency cap. Scopes look like "s3:bucket" or "http:host".
type Gate interface {
	Acquire(ctx context.Context, scope string) (func(), error)
	IsOpen(ctx context.Context, scope string) bool
	Open(ctx context.Context, scope string)
	Close(ctx context.Context, scope string)
}

// Source is a fetched input resolved to a local file.
type Source struct {
	Path string
	Name string
	Temp bool
}

// FetchOptions configures a Fetcher. The S3 options' Bucket is ignored; each
// ref names its own.
type FetchOptions struct {
	WorkDir    string
	Password   string
	Attempts   int
	BaseDelay  time.Duration
	Gate       Gate
	HTTPClient *http.Client
	S3         S3Options
}

// Fetcher resolves source refs (s3://, http://, https://, file://, bare local
// paths) to local files the decoder can open.
type Fetcher struct {
	workDir   string
	password  string
	attempts  int
	baseDelay time.Duration
	gate      Gate
	client    *http.Client
	s3        S3Options
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		workDir:   opts.WorkDir,
		password:  opts.Password,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		gate:      opts.Gate,
		client:    opts.HTTPClient,
		s3:        opts.S3,
	}
}

// Fetch resolves ref to a local file. Remote refs download into the work
// directory; local paths are used in place.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Source, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		return f.local(strings.TrimPrefix(ref, "file://"))
	default:
		return f.local(ref)
	}
}

func (f *Fetcher) local(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("source not readable: %w", err)
	}
	if info.IsDir() {
		return nil, &RefError{Ref: path, Reason: "is a directory"}
	}
	return &Source{Path: path, Name: filepath.Base(path)}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (*Source, error) {
	trimmed := strings.TrimPrefix(ref, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, &RefError{Ref: ref, Reason: "want s3://bucket/key"}
	}
	bucket, key := parts[0], parts[1]

	start := time.Now()
	var src *Source
	err := f.withRetry(ctx, "s3:"+bucket, func() error {
		o := f.s3
		o.Bucket = bucket
		cli, err := NewS3Client(ctx, o)
		if err != nil {
			return err
		}
		data, meta, err := cli.DownloadObject(ctx, key, f.password)
		if err != nil {
			return err
		}
		name := meta.Name
		if name == "" {
			name = filepath.Base(key)
		}
		path, err := f.writeTemp("s3src-", name, data)
		if err != nil {
			return err
		}
		src = &Source{Path: path, Name: name, Temp: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveFetch("s3", time.Since(start))
	log.Debug().Str("ref", ref).Str("path", src.Path).Msg("fetched s3 source")
	return src, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref string) (*Source, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, &RefError{Ref: ref, Reason: "unparseable URL"}
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}

	start := time.Now()
	var src *Source
	err = f.withRetry(ctx, "http:"+u.Host, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return &HTTPError{StatusCode: resp.StatusCode, URL: ref}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		path, err := f.writeTemp("srcdl-", name, data)
		if err != nil {
			return err
		}
		src = &Source{Path: path, Name: name, Temp: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveFetch(u.Scheme, time.Since(start))
	log.Debug().Str("ref", ref).Str("path", src.Path).Msg("fetched http source")
	return src, nil
}

// withRetry runs fn with exponential backoff, honoring the gate's breaker and
// concurrency cap. Fatal errors stop immediately; transient errors retry and
// open the breaker once attempts are exhausted.
func (f *Fetcher) withRetry(ctx context.Context, scope string, fn func() error) error {
	if f.gate != nil {
		if f.gate.IsOpen(ctx, scope) {
			return fmt.Errorf("fetch suspended for %s (cooldown active)", scope)
		}
		release, err := f.gate.Acquire(ctx, scope)
		if err != nil {
			return err
		}
		defer release()
	}

	delay := f.baseDelay
	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		err = fn()
		if err == nil {
			if f.gate != nil {
				f.gate.Close(ctx, scope)
			}
			return nil
		}
		if isFatal(err) || !isTransient(err) {
			return err
		}
		log.Warn().Err(err).Str("scope", scope).Int("attempt", attempt).Msg("fetch attempt failed")
		if attempt < f.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	if f.gate != nil {
		f.gate.Open(ctx, scope)
	}
	return err
}

// writeTemp writes data to a fresh file in the work directory, keeping the
// source's extension so the decoder can route by suffix if it needs to.
func (f *Fetcher) writeTemp(prefix, name string, data []byte) (string, error) {
	if err := os.MkdirAll(f.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.workDir, prefix+"*"+filepath.Ext(name))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}
