package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "test")
	require.NoError(t, err)

	c.RecordBuild(100, time.Millisecond, nil)
	c.RecordBuild(50, time.Millisecond, errors.New("boom"))
	c.RecordSearch(10, 5, time.Millisecond, nil)
	c.RecordRangeSearch(4, 17, time.Millisecond, nil)
	c.RecordSerialize(2048, time.Millisecond, nil)
	c.RecordDeserialize(2048, time.Millisecond, nil)

	assert.Equal(t, 100.0, testutil.ToFloat64(c.vectors))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.queries.WithLabelValues("search")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.queries.WithLabelValues("range_search")))
	assert.Equal(t, 17.0, testutil.ToFloat64(c.hits))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.ioBytes.WithLabelValues("write")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.ioBytes.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("build")))

	// build success, build error, search, range_search, serialize, deserialize
	assert.Equal(t, 6, testutil.CollectAndCount(c.latency, "test_operation_duration_seconds"))
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewCollector(reg, "dup")
	require.NoError(t, err)

	_, err = NewCollector(reg, "dup")
	assert.Error(t, err)
}
