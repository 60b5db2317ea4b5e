package vecgraph_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/resource"
	"github.com/hupe1980/vecgraph/testutil"
)

func TestIndex_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(1)
	vectors := rng.UniformVectors(200, 16)

	idx := vecgraph.New()
	assert.Equal(t, 0, idx.Size())
	assert.Equal(t, 0, idx.Dim())
	assert.Equal(t, vecgraph.IndexType, idx.Type())

	_, err := idx.Search(ctx, vectors[:1], vecgraph.SearchParams{K: 1}, nil)
	assert.ErrorIs(t, err, vecgraph.ErrNotBuilt)

	_, err = idx.RangeSearch(ctx, vectors[:1], vecgraph.RangeParams{Radius: 1}, nil)
	assert.ErrorIs(t, err, vecgraph.ErrNotBuilt)

	_, err = idx.GetVectorByIds([]uint64{0})
	assert.ErrorIs(t, err, vecgraph.ErrNotBuilt)

	assert.ErrorIs(t, idx.Serialize(ctx, t.TempDir()+"/x.vgr"), vecgraph.ErrNotBuilt)

	_, err = idx.Stats()
	assert.ErrorIs(t, err, vecgraph.ErrNotBuilt)

	require.NoError(t, idx.Build(ctx, vectors, smallParams(16, vecgraph.L2)))
	assert.Equal(t, 200, idx.Size())
	assert.Equal(t, 200, idx.Count())
	assert.Equal(t, 16, idx.Dim())
	assert.Equal(t, vecgraph.L2, idx.Metric())
	assert.Positive(t, idx.MemoryUsage())

	err = idx.Build(ctx, vectors, smallParams(16, vecgraph.L2))
	assert.ErrorIs(t, err, vecgraph.ErrAlreadyBuilt)
	assert.Equal(t, 200, idx.Size())

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Search(ctx, vectors[:1], vecgraph.SearchParams{K: 1}, nil)
	assert.ErrorIs(t, err, vecgraph.ErrClosed)
	assert.ErrorIs(t, idx.Build(ctx, vectors, smallParams(16, vecgraph.L2)), vecgraph.ErrClosed)
}

func TestIndex_BuildValidation(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(2)
	vectors := rng.UniformVectors(50, 8)

	tests := []struct {
		name   string
		params vecgraph.BuildParams
	}{
		{"zero dim", vecgraph.BuildParams{Dim: 0}},
		{"negative M", vecgraph.BuildParams{Dim: 8, M: -1}},
		{"negative ef_construction", vecgraph.BuildParams{Dim: 8, EfConstruction: -5}},
		{"alpha below one", vecgraph.BuildParams{Dim: 8, Alpha: 0.5}},
		{"unknown metric", vecgraph.BuildParams{Dim: 8, Metric: vecgraph.Metric(42)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := vecgraph.New()
			err := idx.Build(ctx, vectors, tt.params)
			assert.ErrorIs(t, err, vecgraph.ErrInvalidParameter)
			assert.Equal(t, 0, idx.Size())

			require.NoError(t, idx.Build(ctx, vectors, smallParams(8, vecgraph.L2)), "failed build must leave the index empty")
		})
	}
}

func TestIndex_BuildRejectsBadVectors(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)

	t.Run("dimension mismatch", func(t *testing.T) {
		vectors := rng.UniformVectors(20, 8)
		vectors[7] = vectors[7][:5]

		idx := vecgraph.New()
		err := idx.Build(ctx, vectors, smallParams(8, vecgraph.L2))

		var dm *vecgraph.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 8, dm.Expected)
		assert.Equal(t, 5, dm.Actual)
		assert.Equal(t, 0, idx.Size())
	})

	t.Run("zero vector under cosine", func(t *testing.T) {
		vectors := rng.UniformVectors(20, 8)
		vectors[3] = make([]float32, 8)

		idx := vecgraph.New()
		err := idx.Build(ctx, vectors, smallParams(8, vecgraph.Cosine))
		assert.ErrorIs(t, err, vecgraph.ErrInvalidParameter)

		require.NoError(t, idx.Build(ctx, vectors, smallParams(8, vecgraph.L2)))
	})
}

func TestIndex_BuildCanceled(t *testing.T) {
	rng := testutil.NewRNG(4)
	vectors := rng.UniformVectors(2000, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := vecgraph.New()
	err := idx.Build(ctx, vectors, smallParams(8, vecgraph.L2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, idx.Size())

	require.NoError(t, idx.Build(context.Background(), vectors, smallParams(8, vecgraph.L2)))
	assert.Equal(t, 2000, idx.Size())
}

func TestIndex_BuildEmpty(t *testing.T) {
	ctx := context.Background()

	idx := buildIndex(t, nil, smallParams(4, vecgraph.L2))
	assert.Equal(t, 0, idx.Size())

	res, err := idx.Search(ctx, [][]float32{{1, 2, 3, 4}}, vecgraph.SearchParams{K: 3}, nil)
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	assert.Empty(t, res.IDs[0])
}

func TestIndex_ConcurrentBuildOnlyOneWins(t *testing.T) {
	rng := testutil.NewRNG(5)
	vectors := rng.UniformVectors(500, 8)
	idx := vecgraph.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := idx.Build(context.Background(), vectors, smallParams(8, vecgraph.L2))
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, vecgraph.ErrAlreadyBuilt)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 500, idx.Size())
}

func TestIndex_GetVectorByIds(t *testing.T) {
	rng := testutil.NewRNG(6)
	vectors := rng.GaussianVectors(300, 12)
	idx := buildIndex(t, vectors, smallParams(12, vecgraph.Cosine))

	ids := make([]uint64, len(vectors))
	for i := range ids {
		ids[i] = uint64(i)
	}

	got, err := idx.GetVectorByIds(ids)
	require.NoError(t, err)
	require.Len(t, got, len(vectors))
	for i := range vectors {
		assert.Equal(t, vectors[i], got[i], "vector %d", i)
	}

	got, err = idx.GetVectorByIds([]uint64{299, 0, 150})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{vectors[299], vectors[0], vectors[150]}, got)

	got[0][0] = 1e9
	again, err := idx.GetVectorByIds([]uint64{299})
	require.NoError(t, err)
	assert.Equal(t, vectors[299], again[0], "returned vectors must be copies")

	_, err = idx.GetVectorByIds([]uint64{1, 300, 2})
	var oor *vecgraph.ErrIDOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, uint64(300), oor.ID)
	assert.Equal(t, uint64(300), oor.Count)
}

func TestIndex_Stats(t *testing.T) {
	rng := testutil.NewRNG(7)
	vectors := rng.UniformVectors(1000, 8)
	idx := buildIndex(t, vectors, smallParams(8, vecgraph.L2))

	st, err := idx.Stats()
	require.NoError(t, err)

	assert.Equal(t, vecgraph.IndexType, st.Type)
	assert.Equal(t, 1000, st.Count)
	assert.Equal(t, 8, st.Dim)
	assert.Equal(t, 8, st.M)
	assert.Equal(t, uint64(42), st.Seed)
	require.NotEmpty(t, st.Levels)
	assert.Equal(t, 1000, st.Levels[0].Nodes)
	assert.Equal(t, len(st.Levels)-1, st.MaxLevel)
	assert.LessOrEqual(t, st.Levels[0].AvgDegree, float64(2*8))

	p, err := idx.Params()
	require.NoError(t, err)
	require.NotNil(t, p.Seed)
	assert.Equal(t, int64(42), *p.Seed)
}

func TestIndex_SeedIsReported(t *testing.T) {
	rng := testutil.NewRNG(8)
	vectors := rng.UniformVectors(100, 4)

	params := smallParams(4, vecgraph.L2)
	params.Seed = nil

	idx := buildIndex(t, vectors, params)
	p, err := idx.Params()
	require.NoError(t, err)
	require.NotNil(t, p.Seed, "a clock seed is recorded so the build can be reproduced")

	params.Seed = p.Seed
	again := buildIndex(t, vectors, params)

	s1, err := idx.Stats()
	require.NoError(t, err)
	s2, err := again.Stats()
	require.NoError(t, err)
	assert.Equal(t, s1.Levels, s2.Levels)
	assert.Equal(t, s1.EntryPoint, s2.EntryPoint)
}

func TestIndex_MemoryAccounting(t *testing.T) {
	rng := testutil.NewRNG(9)
	vectors := rng.UniformVectors(100, 16)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	idx := buildIndex(t, vectors, smallParams(16, vecgraph.L2), vecgraph.WithResourceController(rc))
	assert.GreaterOrEqual(t, rc.MemoryUsage(), int64(100*16*4))

	require.NoError(t, idx.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())

	tight := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
	small := vecgraph.New(vecgraph.WithResourceController(tight))
	err := small.Build(context.Background(), vectors, smallParams(16, vecgraph.L2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrMemoryLimit))
	assert.Equal(t, int64(0), tight.MemoryUsage())
}

func TestIndex_Metrics(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(10)
	vectors := rng.UniformVectors(100, 8)

	mc := &vecgraph.BasicMetricsCollector{}
	idx := buildIndex(t, vectors, smallParams(8, vecgraph.L2), vecgraph.WithMetricsCollector(mc))

	_, err := idx.Search(ctx, vectors[:3], vecgraph.SearchParams{K: 2}, nil)
	require.NoError(t, err)
	_, err = idx.Search(ctx, vectors[:3], vecgraph.SearchParams{K: 5, EfSearch: 2}, nil)
	require.Error(t, err)
	_, err = idx.RangeSearch(ctx, vectors[:2], vecgraph.RangeParams{Radius: 0}, nil)
	require.NoError(t, err)

	st := mc.GetStats()
	assert.Equal(t, int64(1), st.BuildCount)
	assert.Equal(t, int64(100), st.BuildVectors)
	assert.Equal(t, int64(2), st.SearchCount)
	assert.Equal(t, int64(1), st.SearchErrors)
	assert.Equal(t, int64(1), st.RangeCount)
	assert.GreaterOrEqual(t, st.RangeHits, int64(2), "each query finds itself at distance 0")
}
