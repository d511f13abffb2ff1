package statuscheck

import (
	"context"
	"errors"
	"net/http"
	"os/exec"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/sheetpack/internal/metrics"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the external dependencies a compose
// job touches.
type Checker struct {
	redis      RedisPinger
	s3Bucket   string
	httpClient *http.Client
}

// Options configures the Checker.
type Options struct {
	Redis      RedisPinger
	S3Bucket   string
	HTTPClient *http.Client
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis       Status `json:"redis"`
	S3          Status `json:"s3"`
	LibreOffice Status `json:"libreoffice"`
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:      opts.Redis,
		s3Bucket:   opts.S3Bucket,
		httpClient: client,
	}
}

// Summary returns the current status snapshot and updates the readiness
// gauges.
func (c *Checker) Summary(ctx context.Context) Summary {
	s := Summary{
		Redis:       c.checkRedis(ctx),
		S3:          c.checkS3(ctx),
		LibreOffice: c.checkLibreOffice(),
	}
	metrics.SetDependencyUp("redis", s.Redis.OK)
	metrics.SetDependencyUp("s3", s.S3.OK)
	metrics.SetDependencyUp("libreoffice", s.LibreOffice.OK)
	return s
}

// Watch re-probes on a fixed interval until ctx ends, keeping the gauges
// current between requests.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Summary(ctx)
		}
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: err.Error()}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return Status{OK: false, Message: err.Error()}
	}
	cli := s3.NewFromConfig(cfg)
	_, err = cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket})
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkLibreOffice() Status {
	if _, err := exec.LookPath("libreoffice"); err != nil {
		if _, err := exec.LookPath("soffice"); err != nil {
			return Status{OK: false, Message: "Binary not found"}
		}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
