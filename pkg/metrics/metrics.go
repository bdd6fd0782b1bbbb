// Package metrics provides Prometheus metrics for the scrape and merge
// workflow. Metrics are registered with the default registry on first use
// via promauto; a caller that wants to expose them serves
// promhttp.Handler() itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StocksScraped counts stocks returned by the exchange list
	// endpoints. Labels: exchange, status (success/failure).
	StocksScraped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahub_stocks_scraped_total",
			Help: "Total number of stocks returned by exchange list fetches",
		},
		[]string{"exchange", "status"},
	)

	// RecordsMerged counts daily records written into the dataset.
	// Labels: exchange, policy (full_replace/incremental).
	RecordsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahub_records_merged_total",
			Help: "Total number of daily records merged into the dataset",
		},
		[]string{"exchange", "policy"},
	)

	// FetchFailures counts per-stock history fetches that failed and were
	// skipped. Labels: exchange.
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datahub_fetch_failures_total",
			Help: "Total number of skipped stocks due to failed history fetches",
		},
		[]string{"exchange"},
	)

	// ScrapeLatency tracks the latency of exchange HTTP calls in seconds.
	// Labels: exchange, operation (list/history).
	ScrapeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datahub_scrape_latency_seconds",
			Help:    "Latency of exchange HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exchange", "operation"},
	)

	// DatasetStocks reports the number of stocks in the dataset after the
	// last load or merge.
	DatasetStocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datahub_dataset_stocks",
			Help: "Number of stocks in the current dataset",
		},
	)

	// MergeDuration tracks the wall time of a whole merge pass in seconds.
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datahub_merge_duration_seconds",
			Help:    "Duration of a merge pass over one observed batch",
			Buckets: prometheus.DefBuckets,
		},
	)
)
