// Package prometheus exports index metrics to Prometheus.
//
//	c, err := prometheus.NewCollector(prom.DefaultRegisterer, "vecgraph")
//	idx := vecgraph.New(vecgraph.WithMetricsCollector(c))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/vecgraph"
)

// Collector implements vecgraph.MetricsCollector with Prometheus metrics.
type Collector struct {
	latency  *prometheus.HistogramVec
	vectors  prometheus.Counter
	queries  *prometheus.CounterVec
	hits     prometheus.Counter
	ioBytes  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var _ vecgraph.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics under namespace and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of index operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op", "status"}),
		vectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "built_vectors_total",
			Help:      "Vectors indexed by successful builds.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Query vectors processed.",
		}, []string{"op"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "range_hits_total",
			Help:      "Results returned by range searches.",
		}),
		ioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_bytes_total",
			Help:      "Bytes written by serialization and read by deserialization.",
		}, []string{"direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed index operations.",
		}, []string{"op"}),
	}

	for _, m := range []prometheus.Collector{c.latency, c.vectors, c.queries, c.hits, c.ioBytes, c.failures} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.failures.WithLabelValues(op).Inc()
	}
	c.latency.WithLabelValues(op, status).Observe(d.Seconds())
}

// RecordBuild implements vecgraph.MetricsCollector.
func (c *Collector) RecordBuild(vectors int, d time.Duration, err error) {
	c.observe("build", d, err)
	if err == nil {
		c.vectors.Add(float64(vectors))
	}
}

// RecordSearch implements vecgraph.MetricsCollector.
func (c *Collector) RecordSearch(queries, _ int, d time.Duration, err error) {
	c.observe("search", d, err)
	c.queries.WithLabelValues("search").Add(float64(queries))
}

// RecordRangeSearch implements vecgraph.MetricsCollector.
func (c *Collector) RecordRangeSearch(queries, hits int, d time.Duration, err error) {
	c.observe("range_search", d, err)
	c.queries.WithLabelValues("range_search").Add(float64(queries))
	c.hits.Add(float64(hits))
}

// RecordSerialize implements vecgraph.MetricsCollector.
func (c *Collector) RecordSerialize(bytes int64, d time.Duration, err error) {
	c.observe("serialize", d, err)
	c.ioBytes.WithLabelValues("write").Add(float64(bytes))
}

// RecordDeserialize implements vecgraph.MetricsCollector.
func (c *Collector) RecordDeserialize(bytes int64, d time.Duration, err error) {
	c.observe("deserialize", d, err)
	c.ioBytes.WithLabelValues("read").Add(float64(bytes))
}
