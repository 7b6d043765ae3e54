package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// UploadsTotal counts completed file uploads by outcome.
	UploadsTotal *prometheus.CounterVec
	// BytesUploaded accumulates plaintext bytes accepted for storage.
	BytesUploaded prometheus.Counter
	// LinksCreated counts share links issued.
	LinksCreated prometheus.Counter
	// DownloadsTotal counts download attempts by type and outcome.
	DownloadsTotal *prometheus.CounterVec
	// SweeperRuns counts maintenance passes by pass name and outcome.
	SweeperRuns *prometheus.CounterVec
	// SweeperItems counts records affected per maintenance pass.
	SweeperItems *prometheus.CounterVec
)

// InitMetrics registers the collectors. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "file_uploads_total",
			Help: "File uploads by outcome.",
		}, []string{"outcome"})

		BytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "file_upload_bytes_total",
			Help: "Plaintext bytes accepted for encrypted storage.",
		})

		LinksCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "share_links_created_total",
			Help: "Share links issued.",
		})

		DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Download attempts by type and outcome.",
		}, []string{"type", "outcome"})

		SweeperRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_runs_total",
			Help: "Maintenance passes by pass and outcome.",
		}, []string{"pass", "outcome"})

		SweeperItems = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_items_total",
			Help: "Records affected per maintenance pass.",
		}, []string{"pass"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			UploadsTotal,
			BytesUploaded,
			LinksCreated,
			DownloadsTotal,
			SweeperRuns,
			SweeperItems,
		)
	})
}

// Middleware records per-request counters and latency. Uses the route
// template, not the raw URL, to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// ObserveDownload bumps the download counter for one attempt.
func ObserveDownload(downloadType, outcome string) {
	if DownloadsTotal == nil {
		return
	}
	DownloadsTotal.WithLabelValues(downloadType, outcome).Inc()
}
