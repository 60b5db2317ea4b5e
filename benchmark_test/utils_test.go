package vecgraph_bench_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/testutil"
)

const benchSeed = 42

func formatDim(dim int) string { return fmt.Sprintf("dim=%d", dim) }

func formatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%dK", n/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// setupIndex builds an index over size uniform vectors and returns it with the data.
func setupIndex(b *testing.B, dim, size int, metric vecgraph.Metric, opts ...vecgraph.Option) (*vecgraph.Index, [][]float32) {
	b.Helper()

	data := testutil.NewRNG(benchSeed).UniformVectors(size, dim)
	seed := int64(benchSeed)

	idx := vecgraph.New(opts...)
	err := idx.Build(context.Background(), data, vecgraph.BuildParams{
		Dim:            dim,
		Metric:         metric,
		M:              16,
		EfConstruction: 128,
		Seed:           &seed,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = idx.Close() })

	return idx, data
}

// reportRecall attaches recall@k against exact search as a custom metric.
func reportRecall(b *testing.B, idx *vecgraph.Index, queries [][]float32, k, ef int, filter vecgraph.Filter) {
	b.Helper()

	ctx := context.Background()
	approx, err := idx.Search(ctx, queries, vecgraph.SearchParams{K: k, EfSearch: ef}, filter)
	if err != nil {
		b.Fatal(err)
	}
	exact, err := idx.ExactSearch(ctx, queries, k, filter)
	if err != nil {
		b.Fatal(err)
	}

	var total float64
	for i := range queries {
		truth := make(map[uint64]struct{}, len(exact.IDs[i]))
		for _, id := range exact.IDs[i] {
			truth[id] = struct{}{}
		}
		if len(truth) == 0 {
			total++
			continue
		}
		hit := 0
		for _, id := range approx.IDs[i] {
			if _, ok := truth[id]; ok {
				hit++
			}
		}
		total += float64(hit) / float64(len(truth))
	}
	b.ReportMetric(total/float64(len(queries)), "recall")
}
