package vecgraph

import (
	"github.com/hupe1980/vecgraph/internal/persistence"
	"github.com/hupe1980/vecgraph/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	workers          int
	resources        *resource.Controller
	compression      persistence.Compression
}

// Option configures an Index.
type Option func(*options)

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics sink. If nil, metrics are discarded.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithWorkers bounds the goroutines used by one batch query.
// Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = max(n, 1)
	}
}

// WithResourceController shares memory, worker and IO budgets between indexes.
//
// Vector memory is charged against the controller during Build and Deserialize,
// batch queries hold one worker slot per running query, and serialization is
// throttled by its IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithCompression selects the payload compression used when serializing.
// Loading detects the compression from the file header.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// Compression is the payload encoding of a serialized index.
type Compression = persistence.Compression

const (
	CompressionNone = persistence.CompressionNone
	CompressionLZ4  = persistence.CompressionLZ4
	CompressionZSTD = persistence.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	c, err := persistence.ParseCompression(s)
	if err != nil {
		return 0, translateError(err)
	}
	return c, nil
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		workers:          1,
		compression:      CompressionNone,
	}
}
