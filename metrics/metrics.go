// Package metrics provides Prometheus metrics for the retrieval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webgraph"

var (
	// CacheRequests counts answer cache lookups by tier and result.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of answer cache lookups",
		},
		[]string{"tier", "result"},
	)

	// CacheFallbacks counts calls served by the fallback cache because the primary failed.
	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallbacks_total",
			Help:      "Total number of cache calls served by the fallback store",
		},
		[]string{"operation"},
	)

	// MetadataMisses counts index hits dropped because their metadata record was missing.
	MetadataMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_misses_total",
			Help:      "Total number of search hits without a metadata record",
		},
	)

	// IndexedVectors tracks the number of entries in the vector index.
	IndexedVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_vectors",
			Help:      "Number of vectors in the index",
		},
	)

	// StoreOperationDuration measures upsert, search and reset durations.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CrawledPages counts fetched pages by result.
	CrawledPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawled_pages_total",
			Help:      "Total number of pages fetched by the crawler",
		},
		[]string{"result"},
	)

	// IngestedPages counts pages whose chunks were upserted.
	IngestedPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_pages_total",
			Help:      "Total number of ingested pages",
		},
	)

	// IngestedChunks counts upserted chunks.
	IngestedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Total number of ingested chunks",
		},
	)

	// EmbeddingBatchSize observes how many texts go into one embedding call.
	EmbeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_size",
			Help:      "Distribution of embedding batch sizes",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// Jobs counts ingestion jobs by final status.
	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of ingestion jobs by status",
		},
		[]string{"status"},
	)

	// RetrievalDuration measures the hybrid retrieval path.
	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of retrieval stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RerankFallbacks counts retrievals that kept vector order because the reranker failed.
	RerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Total number of retrievals returned without reranking",
		},
	)
)

// RecordCacheLookup records a lookup against one cache tier.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(tier, result).Inc()
}

// RecordStoreOperation records the duration of a store operation.
func RecordStoreOperation(operation string, seconds float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordIngestedPage records a page and its chunk count.
func RecordIngestedPage(chunks int) {
	IngestedPages.Inc()
	IngestedChunks.Add(float64(chunks))
}
