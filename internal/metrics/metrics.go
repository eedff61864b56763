// Package metrics объявляет метрики Prometheus бота.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Загрузки
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terabox_downloads_total",
			Help: "Total number of download requests by outcome",
		},
		[]string{"result"},
	)

	DownloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "terabox_downloads_in_flight",
			Help: "Number of downloads holding an admission slot",
		},
	)

	AdmissionWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terabox_admission_wait_seconds",
			Help:    "Time spent waiting for a free download slot",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	DownloadSizeMB = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terabox_download_size_megabytes",
			Help:    "Size of videos reported by the extractor",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Кеш
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terabox_cache_requests_total",
			Help: "Cache lookups by record kind and result",
		},
		[]string{"kind", "result"},
	)

	CacheFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terabox_cache_flushes_total",
			Help: "Snapshot saves triggered by the cache by status",
		},
		[]string{"status"},
	)

	CacheDirtyEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "terabox_cache_dirty_entries",
			Help: "Number of cached records not yet persisted",
		},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terabox_cache_entries",
			Help: "Number of cached records by kind",
		},
		[]string{"kind"},
	)

	// Подписки
	KeyRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terabox_key_redemptions_total",
			Help: "Access key redemption attempts by result",
		},
		[]string{"result"},
	)

	DailyResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "terabox_daily_resets_total",
			Help: "Number of completed daily quota resets",
		},
	)

	// Рассылка
	BroadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terabox_broadcast_messages_total",
			Help: "Broadcast deliveries by status",
		},
		[]string{"status"},
	)
)

// RecordCacheAccess отмечает попадание или промах кеша.
func RecordCacheAccess(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequestsTotal.WithLabelValues(kind, result).Inc()
}

// RecordFlush отмечает результат сохранения снимка.
func RecordFlush(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CacheFlushesTotal.WithLabelValues(status).Inc()
}

// UpdateCacheMetrics обновляет размеры кеша.
func UpdateCacheMetrics(users, keys, dirty int) {
	CacheEntries.WithLabelValues("user").Set(float64(users))
	CacheEntries.WithLabelValues("key").Set(float64(keys))
	CacheDirtyEntries.Set(float64(dirty))
}

// RecordDownload отмечает исход обработки ссылки.
func RecordDownload(result string) {
	DownloadsTotal.WithLabelValues(result).Inc()
}
