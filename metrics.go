package vecgraph

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives one call per completed index operation.
// Implementations must be safe for concurrent use.
// See the metrics/prometheus package for a Prometheus implementation.
type MetricsCollector interface {
	// RecordBuild is called after Build with the number of input vectors.
	RecordBuild(vectors int, duration time.Duration, err error)

	// RecordSearch is called after Search with the query batch size and k.
	RecordSearch(queries, k int, duration time.Duration, err error)

	// RecordRangeSearch is called after RangeSearch with the batch size and
	// the total number of returned hits.
	RecordRangeSearch(queries, hits int, duration time.Duration, err error)

	// RecordSerialize is called after every serialization with the bytes written.
	RecordSerialize(bytes int64, duration time.Duration, err error)

	// RecordDeserialize is called after every load with the bytes read.
	RecordDeserialize(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordRangeSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSerialize(int64, time.Duration, error)      {}
func (NoopMetricsCollector) RecordDeserialize(int64, time.Duration, error)    {}

// BasicMetricsCollector keeps in-memory counters. Useful for debugging and tests.
type BasicMetricsCollector struct {
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildVectors      atomic.Int64
	BuildTotalNanos   atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchQueries     atomic.Int64
	SearchTotalNanos  atomic.Int64
	RangeCount        atomic.Int64
	RangeErrors       atomic.Int64
	RangeQueries      atomic.Int64
	RangeHits         atomic.Int64
	SerializeCount    atomic.Int64
	SerializeErrors   atomic.Int64
	SerializeBytes    atomic.Int64
	DeserializeCount  atomic.Int64
	DeserializeErrors atomic.Int64
	DeserializeBytes  atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(vectors int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.BuildVectors.Add(int64(vectors))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(queries, _ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchQueries.Add(int64(queries))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRangeSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRangeSearch(queries, hits int, _ time.Duration, err error) {
	b.RangeCount.Add(1)
	b.RangeQueries.Add(int64(queries))
	b.RangeHits.Add(int64(hits))
	if err != nil {
		b.RangeErrors.Add(1)
	}
}

// RecordSerialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSerialize(bytes int64, _ time.Duration, err error) {
	b.SerializeCount.Add(1)
	b.SerializeBytes.Add(bytes)
	if err != nil {
		b.SerializeErrors.Add(1)
	}
}

// RecordDeserialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeserialize(bytes int64, _ time.Duration, err error) {
	b.DeserializeCount.Add(1)
	b.DeserializeBytes.Add(bytes)
	if err != nil {
		b.DeserializeErrors.Add(1)
	}
}

// GetStats returns a snapshot of the counters.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:        b.BuildCount.Load(),
		BuildErrors:       b.BuildErrors.Load(),
		BuildVectors:      b.BuildVectors.Load(),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchQueries:     b.SearchQueries.Load(),
		SearchAvgNanos:    avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		RangeCount:        b.RangeCount.Load(),
		RangeErrors:       b.RangeErrors.Load(),
		RangeHits:         b.RangeHits.Load(),
		SerializeCount:    b.SerializeCount.Load(),
		SerializeErrors:   b.SerializeErrors.Load(),
		SerializeBytes:    b.SerializeBytes.Load(),
		DeserializeCount:  b.DeserializeCount.Load(),
		DeserializeErrors: b.DeserializeErrors.Load(),
		DeserializeBytes:  b.DeserializeBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	BuildCount        int64
	BuildErrors       int64
	BuildVectors      int64
	SearchCount       int64
	SearchErrors      int64
	SearchQueries     int64
	SearchAvgNanos    int64
	RangeCount        int64
	RangeErrors       int64
	RangeHits         int64
	SerializeCount    int64
	SerializeErrors   int64
	SerializeBytes    int64
	DeserializeCount  int64
	DeserializeErrors int64
	DeserializeBytes  int64
}
