package vecgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/resource"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
build:
  dim: 128
  metric_type: COSINE
  M: 24
  ef_construction: 200
  seed: 7
search:
  k: 5
  ef_search: 64
range:
  radius: 0.5
compression: zstd
workers: 4
log_level: debug
resources:
  memory_limit_bytes: 1048576
  max_workers: 2
`))
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Build.Dim)
	assert.Equal(t, Cosine, cfg.Build.Metric)
	assert.Equal(t, 24, cfg.Build.M)
	assert.Equal(t, 200, cfg.Build.EfConstruction)
	require.NotNil(t, cfg.Build.Seed)
	assert.Equal(t, int64(7), *cfg.Build.Seed)
	assert.Equal(t, SearchParams{K: 5, EfSearch: 64}, cfg.Search)
	assert.Equal(t, RangeParams{Radius: 0.5, EfSearch: DefaultEfSearch}, cfg.Range)
	assert.Equal(t, resource.Config{MemoryLimitBytes: 1 << 20, MaxWorkers: 2}, cfg.Resources)

	var o options
	for _, fn := range cfg.Options() {
		fn(&o)
	}
	assert.Equal(t, CompressionZSTD, o.compression)
	assert.Equal(t, 4, o.workers)
	require.NotNil(t, o.resources)
	assert.Equal(t, 2, o.resources.MaxWorkers())
	require.NotNil(t, o.logger)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, L2, cfg.Build.Metric)
	assert.Equal(t, DefaultM, cfg.Build.M)
	assert.Equal(t, SearchParams{K: DefaultK, EfSearch: DefaultEfSearch}, cfg.Search)
	assert.Equal(t, DefaultRadius, cfg.Range.Radius)
	assert.Equal(t, 1, cfg.Workers)

	idx := New(cfg.Options()...)
	assert.Equal(t, CompressionNone, idx.opts.compression)
	assert.Nil(t, idx.opts.resources)
}

func TestParseConfig_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "bogus: 1\n",
		"bad metric":      "build:\n  dim: 4\n  metric_type: HAMMING\n",
		"ef below k":      "search:\n  k: 10\n  ef_search: 2\n",
		"bad compression": "compression: brotli\n",
		"bad log level":   "log_level: loud\n",
		"negative M":      "build:\n  dim: 4\n  M: -1\n",
		"not yaml":        "build: [1, 2\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  dim: 16\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Build.Dim)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
