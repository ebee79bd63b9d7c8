// Package metrics provides Prometheus metrics for the frame exporter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the exporter.
type Metrics struct {
	// Asset metrics
	AssetsExported *prometheus.CounterVec
	AssetsFailed   *prometheus.CounterVec
	LastRunAssets  *prometheus.GaugeVec

	// API metrics
	ResolveCalls  *prometheus.CounterVec
	RateLimitHits *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec

	// Timing metrics
	ResolveDuration  *prometheus.HistogramVec
	DownloadDuration *prometheus.HistogramVec

	// Size metrics
	AssetBytes *prometheus.HistogramVec

	// Pipeline metrics
	QueueDepth        prometheus.Gauge
	InFlightDownloads prometheus.Gauge
	RateLimitPause    prometheus.Gauge

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors prometheus.Counter
	NotifyErrors  prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":2112")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "frame_exporter"
	}

	m := &Metrics{
		AssetsExported: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_exported_total",
				Help:      "Total number of assets downloaded and persisted",
			},
			[]string{"file_key", "format"},
		),
		AssetsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_failed_total",
				Help:      "Total number of assets that terminally failed",
			},
			[]string{"file_key", "format"},
		),
		LastRunAssets: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_assets",
				Help:      "Asset count of the most recent completed run",
			},
			[]string{"file_key", "outcome"},
		),
		ResolveCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolve_calls_total",
				Help:      "Total number of bulk render calls issued",
			},
			[]string{"file_key"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of 429 responses from the service",
			},
			[]string{"operation"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		ResolveDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Time for one bulk render call",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"file_key"},
		),
		DownloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time to download and persist one asset",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"file_key", "format"},
		),
		AssetBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "asset_bytes",
				Help:      "Size of downloaded assets in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~16MB
			},
			[]string{"format"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of tasks in the download queue",
			},
		),
		InFlightDownloads: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_downloads",
				Help:      "Number of downloads currently running",
			},
		),
		RateLimitPause: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_pause_seconds",
				Help:      "Remaining global pause imposed by the last rate limit",
			},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"operation"},
		),
		CatalogErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of catalog write errors",
			},
		),
		NotifyErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of notification emission errors",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	FileKey   string
	Format    string
	Operation string
}

// IncAssetsExported increments the exported assets counter.
func (m *Metrics) IncAssetsExported(l Labels) {
	m.AssetsExported.WithLabelValues(l.FileKey, l.Format).Inc()
}

// IncAssetsFailed increments the failed assets counter.
func (m *Metrics) IncAssetsFailed(l Labels) {
	m.AssetsFailed.WithLabelValues(l.FileKey, l.Format).Inc()
}

// SetLastRunAssets records the outcome counts of a completed run.
func (m *Metrics) SetLastRunAssets(fileKey string, succeeded, failed float64) {
	m.LastRunAssets.WithLabelValues(fileKey, "succeeded").Set(succeeded)
	m.LastRunAssets.WithLabelValues(fileKey, "failed").Set(failed)
}

// IncResolveCalls increments the bulk render call counter.
func (m *Metrics) IncResolveCalls(l Labels) {
	m.ResolveCalls.WithLabelValues(l.FileKey).Inc()
}

// IncRateLimitHits increments the rate limit counter.
func (m *Metrics) IncRateLimitHits(l Labels) {
	m.RateLimitHits.WithLabelValues(l.Operation).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Operation).Inc()
}

// ObserveResolveDuration records one bulk render call's duration.
func (m *Metrics) ObserveResolveDuration(l Labels, seconds float64) {
	m.ResolveDuration.WithLabelValues(l.FileKey).Observe(seconds)
}

// ObserveDownloadDuration records one asset download's duration.
func (m *Metrics) ObserveDownloadDuration(l Labels, seconds float64) {
	m.DownloadDuration.WithLabelValues(l.FileKey, l.Format).Observe(seconds)
}

// ObserveAssetBytes records the size of a downloaded asset.
func (m *Metrics) ObserveAssetBytes(l Labels, bytes float64) {
	m.AssetBytes.WithLabelValues(l.Format).Observe(bytes)
}

// SetQueueDepth sets the current download queue depth.
func (m *Metrics) SetQueueDepth(depth float64) {
	m.QueueDepth.Set(depth)
}

// SetInFlightDownloads sets the number of running downloads.
func (m *Metrics) SetInFlightDownloads(count float64) {
	m.InFlightDownloads.Set(count)
}

// SetRateLimitPause sets the remaining global pause in seconds.
func (m *Metrics) SetRateLimitPause(seconds float64) {
	m.RateLimitPause.Set(seconds)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Operation).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	m.CatalogErrors.Inc()
}

// IncNotifyErrors increments the notification errors counter.
func (m *Metrics) IncNotifyErrors() {
	m.NotifyErrors.Inc()
}
