package hnsw

import (
	"fmt"

	"github.com/hupe1980/vecgraph/internal/vectorstore"
)

// Layout is the persisted form of the graph topology.
type Layout struct {
	EntryPoint uint32
	MaxLevel   int

	// Levels holds the top layer of every node.
	Levels []uint8

	// Connections holds, per node, one neighbor list per layer 0..level.
	Connections [][][]Neighbor
}

// Export returns the graph topology. The neighbor slices alias graph memory.
func (h *HNSW) Export() Layout {
	l := Layout{
		EntryPoint:  h.entryPoint,
		MaxLevel:    h.maxLevel,
		Levels:      make([]uint8, len(h.nodes)),
		Connections: make([][][]Neighbor, len(h.nodes)),
	}

	for i := range h.nodes {
		l.Levels[i] = uint8(h.nodes[i].level)
		l.Connections[i] = h.nodes[i].connections
	}

	return l
}

// Restore rebuilds a graph from vectors and a persisted layout.
// The layout is validated structurally; violations wrap ErrCorruptGraph.
func Restore(opts Options, vectors *vectorstore.Store, layout Layout) (*HNSW, error) {
	h, err := New(opts, vectors)
	if err != nil {
		// Options come from persisted bytes here, so a bad value is corruption.
		return nil, fmt.Errorf("%w: %v", ErrCorruptGraph, err)
	}

	count := vectors.Count()
	if len(layout.Levels) != count || len(layout.Connections) != count {
		return nil, fmt.Errorf("%w: %d vectors but %d levels and %d adjacency entries",
			ErrCorruptGraph, count, len(layout.Levels), len(layout.Connections))
	}

	if count == 0 {
		return h, nil
	}

	if int(layout.EntryPoint) >= count {
		return nil, fmt.Errorf("%w: entry point %d out of range", ErrCorruptGraph, layout.EntryPoint)
	}

	top := 0
	for _, lvl := range layout.Levels {
		top = max(top, int(lvl))
	}

	if layout.MaxLevel != top || int(layout.Levels[layout.EntryPoint]) != top {
		return nil, fmt.Errorf("%w: entry point %d is not on top level %d", ErrCorruptGraph, layout.EntryPoint, top)
	}

	h.nodes = make([]node, count)
	for id := range count {
		level := int(layout.Levels[id])
		conns := layout.Connections[id]

		if len(conns) != level+1 {
			return nil, fmt.Errorf("%w: node %d has level %d but %d layers", ErrCorruptGraph, id, level, len(conns))
		}

		for l, list := range conns {
			if err := h.checkNeighbors(uint32(id), l, list, layout.Levels); err != nil {
				return nil, err
			}
		}

		h.nodes[id] = node{level: level, connections: conns}
	}

	h.entryPoint = layout.EntryPoint
	h.maxLevel = top

	return h, nil
}

func (h *HNSW) checkNeighbors(id uint32, layer int, list []Neighbor, levels []uint8) error {
	if len(list) > h.MaxConnections(layer) {
		return fmt.Errorf("%w: node %d layer %d has degree %d, bound %d",
			ErrCorruptGraph, id, layer, len(list), h.MaxConnections(layer))
	}

	for i, n := range list {
		switch {
		case int(n.ID) >= len(levels):
			return fmt.Errorf("%w: node %d links to unknown node %d", ErrCorruptGraph, id, n.ID)
		case n.ID == id:
			return fmt.Errorf("%w: node %d links to itself", ErrCorruptGraph, id)
		case int(levels[n.ID]) < layer:
			return fmt.Errorf("%w: node %d links to node %d above its level", ErrCorruptGraph, id, n.ID)
		}

		for _, prev := range list[:i] {
			if prev.ID == n.ID {
				return fmt.Errorf("%w: node %d links twice to node %d", ErrCorruptGraph, id, n.ID)
			}
		}
	}

	return nil
}
