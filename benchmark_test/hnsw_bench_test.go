package vecgraph_bench_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/testutil"
)

// BenchmarkBuild measures graph construction.
func BenchmarkBuild(b *testing.B) {
	for _, dim := range []int{32, 128} {
		for _, size := range []int{1000, 10000} {
			b.Run(formatDim(dim)+"/"+formatCount(size), func(b *testing.B) {
				data := testutil.NewRNG(benchSeed).UniformVectors(size, dim)
				params := vecgraph.BuildParams{Dim: dim, Metric: vecgraph.L2, M: 16, EfConstruction: 128}

				for b.Loop() {
					idx := vecgraph.New()
					if err := idx.Build(context.Background(), data, params); err != nil {
						b.Fatal(err)
					}
					_ = idx.Close()
				}
				b.ReportMetric(float64(size), "vectors/op")
			})
		}
	}
}

// BenchmarkSearch measures single-query KNN search across ef values and reports recall.
func BenchmarkSearch(b *testing.B) {
	const dim, size, k = 128, 10000, 10

	idx, _ := setupIndex(b, dim, size, vecgraph.L2)
	queries := testutil.NewRNG(7).UniformVectors(100, dim)

	for _, ef := range []int{16, 64, 256} {
		b.Run(fmt.Sprintf("ef=%d", ef), func(b *testing.B) {
			ctx := context.Background()
			params := vecgraph.SearchParams{K: k, EfSearch: max(ef, k)}

			i := 0
			for b.Loop() {
				if _, err := idx.Search(ctx, queries[i%len(queries):i%len(queries)+1], params, nil); err != nil {
					b.Fatal(err)
				}
				i++
			}
			reportRecall(b, idx, queries, k, params.EfSearch, nil)
		})
	}
}

// BenchmarkSearchMetrics compares the metrics at equal graph size.
func BenchmarkSearchMetrics(b *testing.B) {
	const dim, size = 64, 5000

	for _, metric := range []vecgraph.Metric{vecgraph.L2, vecgraph.IP, vecgraph.Cosine} {
		b.Run(metric.String(), func(b *testing.B) {
			idx, _ := setupIndex(b, dim, size, metric)
			query := testutil.NewRNG(7).UniformVectors(1, dim)
			params := vecgraph.SearchParams{K: 10, EfSearch: 64}

			for b.Loop() {
				if _, err := idx.Search(context.Background(), query, params, nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkBatchSearch measures batched queries with the parallel worker pool.
func BenchmarkBatchSearch(b *testing.B) {
	const dim, size = 128, 10000

	for _, workers := range []int{1, 4} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			idx, _ := setupIndex(b, dim, size, vecgraph.L2, vecgraph.WithWorkers(workers))
			queries := testutil.NewRNG(7).UniformVectors(256, dim)
			params := vecgraph.SearchParams{K: 10, EfSearch: 64}

			for b.Loop() {
				if _, err := idx.Search(context.Background(), queries, params, nil); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(float64(len(queries)), "queries/op")
		})
	}
}

// BenchmarkFilteredSearch covers the brute-force and graph paths of filtered search.
func BenchmarkFilteredSearch(b *testing.B) {
	const dim, size, k = 64, 10000, 10

	idx, _ := setupIndex(b, dim, size, vecgraph.L2)
	queries := testutil.NewRNG(7).UniformVectors(50, dim)

	for _, selectivity := range []int{1, 10, 50} {
		filter := vecgraph.NewBitmapFilter()
		for id := 0; id < size; id += 100 / selectivity {
			filter.Add(uint64(id))
		}

		b.Run(fmt.Sprintf("bitmap=%d%%", selectivity), func(b *testing.B) {
			params := vecgraph.SearchParams{K: k, EfSearch: 64}
			i := 0
			for b.Loop() {
				q := queries[i%len(queries) : i%len(queries)+1]
				if _, err := idx.Search(context.Background(), q, params, filter); err != nil {
					b.Fatal(err)
				}
				i++
			}
			reportRecall(b, idx, queries, k, params.EfSearch, filter)
		})
	}

	b.Run("func=odd", func(b *testing.B) {
		odd := vecgraph.FilterFunc(func(id uint64) bool { return id%2 == 1 })
		params := vecgraph.SearchParams{K: k, EfSearch: 64}
		for b.Loop() {
			if _, err := idx.Search(context.Background(), queries[:1], params, odd); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkRangeSearch measures radius queries at growing radii.
func BenchmarkRangeSearch(b *testing.B) {
	const dim, size = 16, 10000

	idx, _ := setupIndex(b, dim, size, vecgraph.L2)
	query := testutil.NewRNG(7).UniformVectors(1, dim)

	for _, radius := range []float32{0.25, 0.5, 1.0} {
		b.Run(fmt.Sprintf("radius=%.2f", radius), func(b *testing.B) {
			params := vecgraph.RangeParams{Radius: radius, EfSearch: 128}
			var hits int
			for b.Loop() {
				res, err := idx.RangeSearch(context.Background(), query, params, nil)
				if err != nil {
					b.Fatal(err)
				}
				hits = res.Hits()
			}
			b.ReportMetric(float64(hits), "hits")
		})
	}
}
