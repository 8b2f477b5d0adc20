package metrics

import (
	"sync"
	"time"

	"ddalti/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ddalti"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	postsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Publish attempts by platform and outcome.",
		},
		[]string{"platform", "result"},
	)

	publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in one publish attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	queueItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_total",
			Help:      "Items appended to the posting queue.",
		},
	)

	queueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Queue rows by status label.",
		},
		[]string{"status"},
	)

	ingestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Crawl runs by outcome.",
		},
		[]string{"result"},
	)

	ingestTickets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_tickets_total",
			Help:      "Tickets seen per pipeline stage.",
		},
		[]string{"stage"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Poll runs skipped by the rate limiter.",
		},
	)

	enrichRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_requests_total",
			Help:      "AI enrichment lookups by kind and source.",
		},
		[]string{"kind", "result"},
	)

	imageDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_downloads_total",
			Help:      "Poster downloads by outcome.",
		},
		[]string{"result"},
	)

	botUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_updates_total",
			Help:      "Telegram updates handled by command.",
		},
		[]string{"command"},
	)

	botUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_update_duration_seconds",
			Help:      "Time spent processing one Telegram update.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			postsTotal,
			publishDuration,
			queueItems,
			queueSize,
			ingestRuns,
			ingestTickets,
			rateLimited,
			enrichRequests,
			imageDownloads,
			botUpdates,
			botUpdateDuration,
		)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObservePost records one publish attempt. result is success, retry, failed or duplicate.
func ObservePost(platform, result string, elapsed time.Duration) {
	postsTotal.WithLabelValues(platform, result).Inc()
	publishDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

func IncQueued() {
	queueItems.Inc()
}

// SetQueueSize mirrors a stats snapshot into the queue_size gauge.
func SetQueueSize(stats models.QueueStats) {
	queueSize.WithLabelValues(models.LabelPending).Set(float64(stats.Pending))
	queueSize.WithLabelValues(models.LabelPosted).Set(float64(stats.Completed))
	queueSize.WithLabelValues(models.LabelFailed).Set(float64(stats.Failed))
	queueSize.WithLabelValues(models.LabelRetrying).Set(float64(stats.Retry))
}

func IncIngestRun(result string) {
	ingestRuns.WithLabelValues(result).Inc()
}

func AddIngestTickets(stage string, n int) {
	if n > 0 {
		ingestTickets.WithLabelValues(stage).Add(float64(n))
	}
}

func IncRateLimited() {
	rateLimited.Inc()
}

// IncEnrich counts a lookup. result is cache, api or fallback.
func IncEnrich(kind, result string) {
	enrichRequests.WithLabelValues(kind, result).Inc()
}

func IncImage(result string) {
	imageDownloads.WithLabelValues(result).Inc()
}

func ObserveBotUpdate(command string, elapsed time.Duration) {
	botUpdates.WithLabelValues(command).Inc()
	botUpdateDuration.Observe(elapsed.Seconds())
}
