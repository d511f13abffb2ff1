package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sheetpack",
			Name:      "pages_ingested_total",
			Help:      "Total pages rendered and appended to a collection",
		},
	)

	ingestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetpack",
			Name:      "ingest_failures_total",
			Help:      "Ingestion failures by kind (decode, render, selection)",
		},
		[]string{"kind"},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sheetpack",
			Name:      "render_duration_seconds",
			Help:      "Duration of single page rasterizations",
			Buckets:   prometheus.DefBuckets,
		},
	)

	composeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sheetpack",
			Name:      "compose_duration_seconds",
			Help:      "Duration of sheet preview composition",
			Buckets:   prometheus.DefBuckets,
		},
	)

	fetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sheetpack",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of source fetches by scheme",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetpack",
			Name:      "fetch_breaker_events_total",
			Help:      "Remote fetch circuit breaker events by action",
		},
		[]string{"action"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetpack",
			Name:      "jobs_total",
			Help:      "Compose jobs by result (success, failed, timeout)",
		},
		[]string{"result"},
	)

	jobsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sheetpack",
			Name:      "jobs_inflight",
			Help:      "Compose jobs currently running",
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sheetpack",
			Name:      "sessions_active",
			Help:      "Live edit sessions held in memory",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sheetpack",
			Name:      "queue_depth",
			Help:      "Intake queue depth gauges",
		},
		[]string{"type"},
	)

	dependencyUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sheetpack",
			Name:      "dependency_up",
			Help:      "Dependency health by name (1 up, 0 down)",
		},
		[]string{"name"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pagesIngested, ingestFailures, renderLatency, composeLatency, fetchLatency, breakerEvents, jobsTotal, jobsInflight, sessionsActive, queueDepth, dependencyUp)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncPageIngested() { pagesIngested.Inc() }

func IncIngestFailure(kind string) { ingestFailures.WithLabelValues(kind).Inc() }

func ObserveRender(dur time.Duration) { renderLatency.Observe(dur.Seconds()) }
func ObserveCompose(dur time.Duration) { composeLatency.Observe(dur.Seconds()) }

func ObserveFetch(scheme string, dur time.Duration) {
	fetchLatency.WithLabelValues(scheme).Observe(dur.Seconds())
}

func BreakerOpened() { breakerEvents.WithLabelValues("opened").Inc() }
func BreakerClosed() { breakerEvents.WithLabelValues("closed").Inc() }

func IncJob(result string) { jobsTotal.WithLabelValues(result).Inc() }

func JobStarted() { jobsInflight.Inc() }

func JobFinished() { jobsInflight.Dec() }

func SetSessions(n int) { sessionsActive.Set(float64(n)) }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	dependencyUp.WithLabelValues(name).Set(v)
}
