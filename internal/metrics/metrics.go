// Package metrics holds the Prometheus metrics exported by Engram.
//
// Every method on *Collector is safe to call on a nil receiver so that
// components can be constructed without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Memory graph metrics
	MemoriesCreated  prometheus.Counter
	AutoLinksCreated prometheus.Counter

	// Retrieval metrics
	RetrievalQueries   prometheus.Counter
	RetrievalTruncated prometheus.Counter
	RerankFallbacks    *prometheus.CounterVec

	// Provider metrics
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter

	// Migration metrics
	MigrationBatches   prometheus.Counter
	MigrationProcessed prometheus.Gauge

	// Event stream metrics
	EventsDropped prometheus.Counter
}

// NewCollector creates a collector with its own registry under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		MemoriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_created_total",
			Help:      "Total number of memories created",
		}),
		AutoLinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_links_created_total",
			Help:      "Total number of links created by auto-linking",
		}),
		RetrievalQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_queries_total",
			Help:      "Total number of retrieval queries answered",
		}),
		RetrievalTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_truncated_total",
			Help:      "Retrieval results truncated by the token budget",
		}),
		RerankFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Rerank failures that fell back to similarity ranking",
		}, []string{"path"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Embedding and rerank provider errors by kind",
		}, []string{"provider", "kind"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Embedding and rerank call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Query embedding cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Query embedding cache misses",
		}),
		MigrationBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_batches_total",
			Help:      "Re-embedding batches committed",
		}),
		MigrationProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_processed_memories",
			Help:      "Memories re-embedded by the current migration",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Activity events dropped from full subscriber queues",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.MemoriesCreated,
		c.AutoLinksCreated,
		c.RetrievalQueries,
		c.RetrievalTruncated,
		c.RerankFallbacks,
		c.ProviderErrors,
		c.ProviderLatency,
		c.CacheHits,
		c.CacheMisses,
		c.MigrationBatches,
		c.MigrationProcessed,
		c.EventsDropped,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) MemoryCreated(autoLinks int) {
	if c == nil {
		return
	}
	c.MemoriesCreated.Inc()
	c.AutoLinksCreated.Add(float64(autoLinks))
}

func (c *Collector) RetrievalDone(truncated bool) {
	if c == nil {
		return
	}
	c.RetrievalQueries.Inc()
	if truncated {
		c.RetrievalTruncated.Inc()
	}
}

func (c *Collector) RerankFallback(path string) {
	if c == nil {
		return
	}
	c.RerankFallbacks.WithLabelValues(path).Inc()
}

func (c *Collector) ProviderCall(provider, op string, d time.Duration, errKind string) {
	if c == nil {
		return
	}
	c.ProviderLatency.WithLabelValues(provider, op).Observe(d.Seconds())
	if errKind != "" {
		c.ProviderErrors.WithLabelValues(provider, errKind).Inc()
	}
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
}

func (c *Collector) MigrationBatch(processed int) {
	if c == nil {
		return
	}
	c.MigrationBatches.Inc()
	c.MigrationProcessed.Set(float64(processed))
}

func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.EventsDropped.Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
