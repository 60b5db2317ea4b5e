package vecgraph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/testutil"
)

func seed(v int64) *int64 { return &v }

func buildIndex(t testing.TB, vectors [][]float32, params vecgraph.BuildParams, opts ...vecgraph.Option) *vecgraph.Index {
	t.Helper()

	idx := vecgraph.New(opts...)
	require.NoError(t, idx.Build(context.Background(), vectors, params))
	t.Cleanup(func() { _ = idx.Close() })

	return idx
}

func smallParams(dim int, metric vecgraph.Metric) vecgraph.BuildParams {
	return vecgraph.BuildParams{
		Dim:            dim,
		Metric:         metric,
		M:              8,
		EfConstruction: 64,
		Seed:           seed(42),
	}
}

func toTestResults(ids []uint64, dists []float32) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(ids))
	for i := range ids {
		out[i] = testutil.SearchResult{ID: ids[i], Distance: dists[i]}
	}
	return out
}

func rows(res *vecgraph.SearchResult) [][]testutil.SearchResult {
	out := make([][]testutil.SearchResult, len(res.IDs))
	for i := range res.IDs {
		out[i] = toTestResults(res.IDs[i], res.Distances[i])
	}
	return out
}
