package vecgraph

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/internal/searcher"
)

// SearchResult holds one row per query, best first. Rows may be shorter
// than k when fewer admissible vectors were found; they are never padded.
type SearchResult struct {
	IDs       [][]uint64
	Distances [][]float32
}

func newSearchResult(n int) *SearchResult {
	return &SearchResult{
		IDs:       make([][]uint64, n),
		Distances: make([][]float32, n),
	}
}

func (r *SearchResult) set(i int, hits []hnsw.SearchResult) {
	ids := make([]uint64, len(hits))
	dists := make([]float32, len(hits))
	for j, h := range hits {
		ids[j] = uint64(h.ID)
		dists[j] = h.Distance
	}
	r.IDs[i] = ids
	r.Distances[i] = dists
}

// Hits returns the total number of results over all rows.
func (r *SearchResult) Hits() int {
	n := 0
	for _, row := range r.IDs {
		n += len(row)
	}
	return n
}

// Search returns the k approximate nearest neighbors of every query.
// Only ids admitted by filter are returned; filter may be nil.
func (idx *Index) Search(ctx context.Context, queries [][]float32, params SearchParams, filter Filter) (res *SearchResult, err error) {
	start := time.Now()
	defer func() {
		idx.opts.metricsCollector.RecordSearch(len(queries), params.K, time.Since(start), err)
	}()

	g, err := idx.ready()
	if err != nil {
		return nil, err
	}

	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := idx.checkQueries(queries); err != nil {
		return nil, err
	}

	gf := graphFilter(filter)
	res = newSearchResult(len(queries))

	err = idx.runBatch(ctx, len(queries), func(ctx context.Context, s *searcher.Searcher, i int) error {
		hits, err := g.KNNSearch(ctx, s, queries[i], params.K, params.EfSearch, gf)
		if err != nil {
			return err
		}
		res.set(i, hits)
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	idx.opts.logger.WithOp("search").WithK(params.K).Debug("search completed",
		"queries", len(queries),
		"ef_search", params.EfSearch,
		"filtered", filter != nil,
		"duration", time.Since(start),
	)

	return res, nil
}

// RangeSearch returns, for every query, the admissible vectors evaluated by
// a beam search of width EfSearch whose score is at most Radius. The
// traversal does not depend on the radius, so for the same query and
// EfSearch a larger radius returns a superset.
func (idx *Index) RangeSearch(ctx context.Context, queries [][]float32, params RangeParams, filter Filter) (res *SearchResult, err error) {
	start := time.Now()
	defer func() {
		hits := 0
		if res != nil {
			hits = res.Hits()
		}
		idx.opts.metricsCollector.RecordRangeSearch(len(queries), hits, time.Since(start), err)
	}()

	g, err := idx.ready()
	if err != nil {
		return nil, err
	}

	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := idx.checkQueries(queries); err != nil {
		return nil, err
	}

	gf := graphFilter(filter)
	res = newSearchResult(len(queries))

	err = idx.runBatch(ctx, len(queries), func(ctx context.Context, s *searcher.Searcher, i int) error {
		hits, err := g.RangeSearch(ctx, s, queries[i], params.Radius, params.EfSearch, gf)
		if err != nil {
			return err
		}
		res.set(i, hits)
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	idx.opts.logger.WithOp("range_search").Debug("range search completed",
		"queries", len(queries),
		"radius", params.Radius,
		"ef_search", params.EfSearch,
		"hits", res.Hits(),
		"duration", time.Since(start),
	)

	return res, nil
}

// ExactSearch scores every admissible vector and returns the exact k nearest
// neighbors of every query. It is intended for recall measurement.
func (idx *Index) ExactSearch(ctx context.Context, queries [][]float32, k int, filter Filter) (*SearchResult, error) {
	g, err := idx.ready()
	if err != nil {
		return nil, err
	}

	if k < 1 {
		return nil, invalidParam("k must be at least 1, got %d", k)
	}
	if err := idx.checkQueries(queries); err != nil {
		return nil, err
	}

	gf := graphFilter(filter)
	res := newSearchResult(len(queries))

	err = idx.runBatch(ctx, len(queries), func(ctx context.Context, s *searcher.Searcher, i int) error {
		hits, err := g.BruteSearch(ctx, s, queries[i], k, gf)
		if err != nil {
			return err
		}
		res.set(i, hits)
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	return res, nil
}

func (idx *Index) checkQueries(queries [][]float32) error {
	for _, q := range queries {
		if err := checkVector(q, idx.params.Dim, idx.params.Metric); err != nil {
			return err
		}
	}
	return nil
}

// runBatch calls fn for every query index. Each call owns a pooled searcher.
// Concurrency is bounded by the worker option and the resource controller.
func (idx *Index) runBatch(ctx context.Context, n int, fn func(ctx context.Context, s *searcher.Searcher, i int) error) error {
	run := func(ctx context.Context, i int) error {
		if err := idx.opts.resources.AcquireWorker(ctx); err != nil {
			return err
		}
		defer idx.opts.resources.ReleaseWorker()

		s := searcher.Get()
		defer searcher.Put(s)

		return fn(ctx, s, i)
	}

	if idx.opts.workers <= 1 || n <= 1 {
		for i := range n {
			if err := run(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(idx.opts.workers)

	for i := range n {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			return run(gctx, i)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}
