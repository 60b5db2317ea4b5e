package hnsw

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/searcher"
	"github.com/hupe1980/vecgraph/internal/vectorstore"
	"github.com/hupe1980/vecgraph/testutil"
)

func cloneLayout(l Layout) Layout {
	out := Layout{
		EntryPoint:  l.EntryPoint,
		MaxLevel:    l.MaxLevel,
		Levels:      slices.Clone(l.Levels),
		Connections: make([][][]Neighbor, len(l.Connections)),
	}
	for i, layers := range l.Connections {
		out.Connections[i] = make([][]Neighbor, len(layers))
		for j, conns := range layers {
			out.Connections[i][j] = slices.Clone(conns)
		}
	}
	return out
}

func restoreFrom(t *testing.T, h *HNSW, layout Layout) (*HNSW, error) {
	t.Helper()

	store, err := vectorstore.FromData(h.Dimension(), slices.Clone(h.Vectors().RawData()), true)
	require.NoError(t, err)

	return Restore(h.Options(), store, layout)
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(17)
	data := rng.UniformVectors(500, 8)
	h := buildTestGraph(t, data, distance.Cosine, 6, 32)

	restored, err := restoreFrom(t, h, cloneLayout(h.Export()))
	require.NoError(t, err)
	assert.Equal(t, h.Export(), restored.Export())

	s := searcher.Get()
	defer searcher.Put(s)

	for _, q := range rng.UniformVectors(10, 8) {
		s.Reset()
		want, err := h.KNNSearch(ctx, s, q, 5, 32, nil)
		require.NoError(t, err)

		s.Reset()
		got, err := restored.KNNSearch(ctx, s, q, 5, 32, nil)
		require.NoError(t, err)

		assert.Equal(t, want, got)
	}
}

func TestRestoreEmpty(t *testing.T) {
	store, err := vectorstore.New(4)
	require.NoError(t, err)

	h, err := Restore(Options{Dimension: 4, Metric: distance.L2, M: 4, EfConstruction: 8}, store, Layout{})
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
}

func TestRestoreRejectsCorruptLayout(t *testing.T) {
	data := testutil.NewRNG(23).UniformVectors(100, 4)
	h := buildTestGraph(t, data, distance.L2, 4, 16)

	tests := []struct {
		name   string
		mutate func(l *Layout)
	}{
		{"MissingNode", func(l *Layout) { l.Levels = l.Levels[:99] }},
		{"EntryOutOfRange", func(l *Layout) { l.EntryPoint = 1000 }},
		{"WrongMaxLevel", func(l *Layout) { l.MaxLevel++ }},
		{"LayerCount", func(l *Layout) { l.Connections[5] = append(l.Connections[5], nil) }},
		{"DanglingEdge", func(l *Layout) { l.Connections[3][0] = append(l.Connections[3][0], Neighbor{ID: 500}) }},
		{"SelfLoop", func(l *Layout) { l.Connections[3][0] = append(l.Connections[3][0][:0], Neighbor{ID: 3}) }},
		{"Duplicate", func(l *Layout) {
			l.Connections[3][0] = append(l.Connections[3][0][:0], Neighbor{ID: 4}, Neighbor{ID: 4})
		}},
		{"DegreeBound", func(l *Layout) {
			conns := make([]Neighbor, 0, 9)
			for id := uint32(10); id < 19; id++ {
				conns = append(conns, Neighbor{ID: id})
			}
			l.Connections[3][0] = conns
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := cloneLayout(h.Export())
			tt.mutate(&layout)

			_, err := restoreFrom(t, h, layout)
			assert.ErrorIs(t, err, ErrCorruptGraph)
		})
	}
}

func TestRestoreRejectsInvalidOptions(t *testing.T) {
	data := testutil.NewRNG(5).UniformVectors(50, 4)
	h := buildTestGraph(t, data, distance.L2, 4, 16)

	store, err := vectorstore.FromData(h.Dimension(), slices.Clone(h.Vectors().RawData()), false)
	require.NoError(t, err)

	opts := h.Options()
	opts.M = maxM + 1

	_, err = Restore(opts, store, cloneLayout(h.Export()))
	assert.ErrorIs(t, err, ErrCorruptGraph)

	var invalid *ErrInvalidOption
	assert.False(t, errors.As(err, &invalid), "stored options must not surface as invalid caller input")
}

func TestRepairConnectivity(t *testing.T) {
	ctx := context.Background()
	data := testutil.NewRNG(41).UniformVectors(400, 4)
	h := buildTestGraph(t, data, distance.L2, 4, 16)
	require.Equal(t, 400, h.Reachable())

	// Cut every edge into node 7 on layer 0.
	for id := range uint32(h.Len()) {
		conns := h.nodes[id].connections[0]
		h.nodes[id].connections[0] = slices.DeleteFunc(conns, func(n Neighbor) bool { return n.ID == 7 })
	}
	if h.entryPoint == 7 {
		t.Skip("entry point cannot be orphaned")
	}
	require.Less(t, h.Reachable(), 400)

	added, err := h.RepairConnectivity(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, added, 1)
	assert.Equal(t, 400, h.Reachable())

	for id := range uint32(h.Len()) {
		assert.LessOrEqual(t, len(h.nodes[id].connections[0]), h.MaxConnections(0))
	}
}
