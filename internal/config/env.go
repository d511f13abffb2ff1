package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/local/sheetpack/internal/layout"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log shipping configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// RenderConfig controls page rasterization and preview output.
type RenderConfig struct {
	Scale         float64
	PreviewDPI    float64
	Trim          bool
	TrimThreshold uint8
}

// LayoutConfig carries the default sheet geometry. Paper and Orientation stay
// strings here; Resolve parses and validates them.
type LayoutConfig struct {
	Rows           int
	Cols           int
	Paper          string
	Orientation    string
	MarginMM       float64
	GapMM          float64
	AutoGrid       bool
	MinCellWidthMM float64
}

// ConvertConfig controls the LibreOffice conversion step for office inputs.
type ConvertConfig struct {
	Enabled       bool
	Timeout       time.Duration
	MaxConcurrent int
}

// WorkerConfig defines job runner behavior and limits.
type WorkerConfig struct {
	Concurrency        int
	JobTimeout         time.Duration
	MaxAttempts        int
	RetryDelay         time.Duration
	SessionTTL         time.Duration
	CleanupInterval    time.Duration
	FetchAttempts      int
	FetchBaseDelay     time.Duration
	MaxInflightFetch   int
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig defines where sources come from and results go. Endpoint and
// the key pair are only needed for S3-compatible stores outside AWS.
type StorageConfig struct {
	Bucket        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	WorkDir       string
	ResultDir     string
	FilePassword  string
	UploadResults bool
}

// HTTPConfig defines the HTTP listener.
type HTTPConfig struct {
	Port string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Render  RenderConfig
	Layout  LayoutConfig
	Convert ConvertConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

var loadDotenv sync.Once

// FromEnv loads configuration from environment with sensible defaults.
// A .env file in the working directory is applied once, if present.
func FromEnv() Config {
	loadDotenv.Do(func() { _ = godotenv.Load() })

	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/sheetpack.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_sheetpack",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Render = RenderConfig{
		Scale:         parseFloat(getEnv("RENDER_SCALE", "2.0"), 2.0),
		PreviewDPI:    parseFloat(getEnv("PREVIEW_DPI", "150"), 150),
		Trim:          parseBool(getEnv("RENDER_TRIM", "true")),
		TrimThreshold: uint8(parseInt(getEnv("RENDER_TRIM_THRESHOLD", "245"), 245)),
	}

	cfg.Layout = LayoutConfig{
		Rows:           parseInt(getEnv("LAYOUT_ROWS", "2"), 2),
		Cols:           parseInt(getEnv("LAYOUT_COLS", "2"), 2),
		Paper:          getEnv("LAYOUT_PAPER", "a4"),
		Orientation:    getEnv("LAYOUT_ORIENTATION", "portrait"),
		MarginMM:       parseFloat(getEnv("LAYOUT_MARGIN_MM", "10"), 10),
		GapMM:          parseFloat(getEnv("LAYOUT_GAP_MM", "4"), 4),
		AutoGrid:       parseBool(getEnv("LAYOUT_AUTO_GRID", "0")),
		MinCellWidthMM: parseFloat(getEnv("LAYOUT_MIN_CELL_WIDTH_MM", "90"), 90),
	}

	cfg.Convert = ConvertConfig{
		Enabled:       parseBool(getEnv("CONVERT_ENABLED", "true")),
		Timeout:       parseDuration(getEnv("CONVERT_TIMEOUT", "120s"), 120*time.Second),
		MaxConcurrent: parseInt(getEnv("CONVERT_MAX_CONCURRENT", "2"), 2),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		JobTimeout:         parseDuration(getEnv("JOB_TIMEOUT", "10m"), 10*time.Minute),
		MaxAttempts:        parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryDelay:         parseDuration(getEnv("JOB_RETRY_DELAY", "30s"), 30*time.Second),
		SessionTTL:         parseDuration(getEnv("SESSION_TTL", "30m"), 30*time.Minute),
		CleanupInterval:    parseDuration(getEnv("CLEANUP_INTERVAL", "5m"), 5*time.Minute),
		FetchAttempts:      parseInt(getEnv("FETCH_ATTEMPTS", "3"), 3),
		FetchBaseDelay:     parseDuration(getEnv("FETCH_BASE_DELAY", "2s"), 2*time.Second),
		MaxInflightFetch:   parseInt(getEnv("MAX_INFLIGHT_FETCH", "4"), 4),
		BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:compose"),
		Group:        getEnv("QUEUE_GROUP", "workers:compose"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		Bucket:        getEnv("AWS_S3_BUCKET", ""),
		Endpoint:      getEnv("S3_ENDPOINT", ""),
		AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("S3_SECRET_KEY", ""),
		WorkDir:       getEnv("WORK_DIR", "work"),
		ResultDir:     getEnv("RESULT_DIR", "work/results"),
		FilePassword:  getEnv("FILE_PASSWORD", ""),
		UploadResults: parseBool(getEnv("UPLOAD_RESULTS", "0")),
	}

	cfg.HTTP = HTTPConfig{
		Port: getEnv("PORT", "8080"),
	}

	return cfg
}

// Resolve parses the layout section into a validated layout.Config.
func (l LayoutConfig) Resolve() (layout.Config, error) {
	size, err := layout.ParsePaperSize(l.Paper)
	if err != nil {
		return layout.Config{}, err
	}
	orient, err := layout.ParseOrientation(l.Orientation)
	if err != nil {
		return layout.Config{}, err
	}
	lc := layout.Config{
		Grid:        layout.Grid{Rows: l.Rows, Cols: l.Cols},
		Paper:       size,
		Orientation: orient,
		MarginMM:    l.MarginMM,
		GapMM:       l.GapMM,
	}
	if l.AutoGrid {
		dims, err := layout.Resolve(size, orient)
		if err != nil {
			return layout.Config{}, err
		}
		lc.Grid = layout.AutoGrid(dims, l.MarginMM, l.GapMM, l.MinCellWidthMM)
	}
	if err := lc.Validate(); err != nil {
		return layout.Config{}, err
	}
	return lc, nil
}

// Validate rejects unusable values before any work starts. Invalid provided
// values are errors, never silently replaced.
func (c Config) Validate() error {
	if _, err := c.Layout.Resolve(); err != nil {
		return err
	}
	if c.Render.Scale <= 0 {
		return &layout.ConfigError{Field: "render scale", Value: strconv.FormatFloat(c.Render.Scale, 'g', -1, 64), Reason: "must be positive"}
	}
	if c.Render.PreviewDPI <= 0 {
		return &layout.ConfigError{Field: "preview dpi", Value: strconv.FormatFloat(c.Render.PreviewDPI, 'g', -1, 64), Reason: "must be positive"}
	}
	if c.Worker.Concurrency < 1 {
		return &layout.ConfigError{Field: "worker concurrency", Value: strconv.Itoa(c.Worker.Concurrency), Reason: "must be at least 1"}
	}
	return nil
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
