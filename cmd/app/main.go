package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/sheetpack/internal/config"
	"github.com/local/sheetpack/internal/converter"
	"github.com/local/sheetpack/internal/jobs"
	"github.com/local/sheetpack/internal/limiter"
	logpkg "github.com/local/sheetpack/internal/logger"
	"github.com/local/sheetpack/internal/metrics"
	"github.com/local/sheetpack/internal/queue"
	"github.com/local/sheetpack/internal/statuscheck"
	"github.com/local/sheetpack/internal/storage"
	"github.com/local/sheetpack/internal/store"
	"github.com/local/sheetpack/internal/web"
)

func main() {
	cfg := config.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	// Bad configuration is fatal; nothing gets silently defaulted past here.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	defaultLayout, err := cfg.Layout.Resolve()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid layout configuration")
	}

	metrics.Init()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	results, err := store.NewResultStore(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init result store")
	}
	defer results.Close()

	gate, err := limiter.New(limiter.Options{
		RedisURL:    cfg.Queue.RedisURL,
		MaxInflight: cfg.Worker.MaxInflightFetch,
		BaseBackoff: cfg.Worker.BreakerBaseBackoff,
		MaxBackoff:  cfg.Worker.BreakerMaxBackoff,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init fetch limiter")
	}
	defer gate.CloseClient()

	s3opts := storage.S3Options{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
	}
	fetcher := storage.NewFetcher(storage.FetchOptions{
		WorkDir:   cfg.Storage.WorkDir,
		Password:  cfg.Storage.FilePassword,
		Attempts:  cfg.Worker.FetchAttempts,
		BaseDelay: cfg.Worker.FetchBaseDelay,
		Gate:      gate,
		S3:        s3opts,
	})

	var conv jobs.Converter
	if cfg.Convert.Enabled {
		lo := converter.NewLibreOffice(cfg.Convert.MaxConcurrent, cfg.Convert.Timeout)
		if err := lo.Initialize(); err != nil {
			log.Warn().Err(err).Msg("libreoffice unavailable, office conversion disabled")
		} else {
			conv = lo
		}
	}

	upload := s3opts
	if cfg.Storage.UploadResults {
		upload.Bucket = cfg.Storage.Bucket
	}

	sessions := jobs.NewSessions(cfg.Worker.SessionTTL)
	runner := jobs.NewRunner(jobs.Config{
		WorkDir:        cfg.Storage.WorkDir,
		ResultDir:      cfg.Storage.ResultDir,
		Scale:          cfg.Render.Scale,
		PreviewDPI:     cfg.Render.PreviewDPI,
		Trim:           cfg.Render.Trim,
		TrimThreshold:  cfg.Render.TrimThreshold,
		DefaultLayout:  defaultLayout,
		Upload:         upload,
		FilePassword:   cfg.Storage.FilePassword,
		ConvertTimeout: cfg.Convert.Timeout,
	}, jobs.Dependencies{
		Queue:    rq,
		Status:   jobs.NewStatusAdapter(rs),
		Results:  results,
		Sessions: sessions,
		Fetcher:  fetcher,
		Convert:  conv,
	})

	checker := statuscheck.New(statuscheck.Options{Redis: rq, S3Bucket: cfg.Storage.Bucket})

	mux := http.NewServeMux()
	api := web.New(web.Config{
		UploadDir:     os.Getenv("UPLOAD_DIR"),
		DefaultLayout: defaultLayout,
		DefaultBucket: cfg.Storage.Bucket,
		PreviewDPI:    cfg.Render.PreviewDPI,
		Trim:          cfg.Render.Trim,
		TrimThreshold: cfg.Render.TrimThreshold,
	}, web.Dependencies{
		Queue:    rq,
		Status:   jobs.NewStatusAdapter(rs),
		Results:  results,
		Sessions: sessions,
		Links:    rs,
		Checker:  checker,
	})
	api.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	bg, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	go runner.Janitor(bg, cfg.Worker.CleanupInterval)
	go checker.Watch(bg, time.Minute)

	var worker *jobs.Worker
	runWorkers := os.Getenv("RUN_WORKERS")
	if runWorkers == "" || runWorkers == "1" || runWorkers == "true" {
		worker = jobs.NewWorker(jobs.WorkerConfig{
			Concurrency: cfg.Worker.Concurrency,
			JobTimeout:  cfg.Worker.JobTimeout,
			MaxAttempts: cfg.Worker.MaxAttempts,
			RetryDelay:  cfg.Worker.RetryDelay,
		}, rq, runner)
		worker.Start()
	}

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if worker != nil {
		_ = worker.Stop(ctx)
	}
	stopBg()
	log.Info().Msg("shutdown complete")
}
