package hnsw

import (
	"context"
	"fmt"

	"github.com/hupe1980/vecgraph/internal/searcher"
)

const noParent = ^uint32(0)

// repairState tracks a spanning tree of the nodes reachable from the entry
// point on layer 0. Tree edges are never displaced, so a node stays
// reachable once it is reached.
type repairState struct {
	parent []uint32
	reach  *searcher.VisitedSet
	order  []uint32 // reached nodes in discovery order
	next   int      // first entry of order that may still accept an edge
	stack  []uint32
}

// RepairConnectivity links every node that is unreachable from the entry
// point on layer 0. Each orphan is attached to the closest reachable node
// with a free slot or a displaceable edge. It returns the number of links added.
func (h *HNSW) RepairConnectivity(ctx context.Context) (int, error) {
	if len(h.nodes) < 2 {
		return 0, nil
	}

	s := searcher.Get()
	defer searcher.Put(s)

	st := &repairState{
		parent: make([]uint32, len(h.nodes)),
		reach:  searcher.NewVisitedSet(len(h.nodes)),
		order:  make([]uint32, 0, len(h.nodes)),
	}
	for i := range st.parent {
		st.parent[i] = noParent
	}
	h.spread(st, h.entryPoint)

	added := 0
	for id := range uint32(len(h.nodes)) {
		if st.reach.Visited(id) {
			continue
		}

		if added%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return added, err
			}
		}

		if !h.attach(s, st, id) {
			return added, fmt.Errorf("%w: no reachable node can link %d", ErrCorruptGraph, id)
		}
		h.spread(st, id)
		added++
	}

	if n := st.reach.Count(); n != len(h.nodes) {
		return added, fmt.Errorf("%w: %d of %d nodes reachable after repair", ErrCorruptGraph, n, len(h.nodes))
	}

	return added, nil
}

// spread marks start and every node newly reachable from it, recording tree parents.
func (h *HNSW) spread(st *repairState, start uint32) {
	if st.reach.Visit(start) {
		st.order = append(st.order, start)
	}

	stack := append(st.stack[:0], start)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, n := range h.nodes[id].connections[0] {
			if st.reach.Visit(n.ID) {
				st.parent[n.ID] = id
				st.order = append(st.order, n.ID)
				stack = append(stack, n.ID)
			}
		}
	}
	st.stack = stack
}

// slot returns the position in p's layer-0 list that may take a new edge:
// len(list) for a free slot, otherwise the worst edge that is not a tree
// edge. It returns -1 when every edge of a full list is a tree edge.
func (h *HNSW) slot(st *repairState, p uint32) int {
	conns := h.nodes[p].connections[0]
	if len(conns) < h.maxConnectionsLayer0 {
		return len(conns)
	}

	worst := -1
	for i, c := range conns {
		if st.parent[c.ID] == p {
			continue
		}
		if worst < 0 || searcher.Better(searcher.Item{ID: conns[worst].ID, Dist: conns[worst].Dist}, searcher.Item{ID: c.ID, Dist: c.Dist}) {
			worst = i
		}
	}
	return worst
}

// attach links orphan from the closest reachable node that can take an edge.
// A reachable node with capacity always exists: the tree has fewer edges
// than the reached nodes have slots.
func (h *HNSW) attach(s *searcher.Searcher, st *repairState, orphan uint32) bool {
	ls := layerSearch{query: h.vectors.Vector(orphan), norm: h.vectors.Norm(orphan)}

	ep, epDist := h.greedySearch(&ls)
	h.searchLayer(s, &ls, ep, epDist, 0, max(h.opts.EfConstruction, h.maxConnectionsLayer0))

	for _, c := range s.DrainSorted() {
		if c.ID == orphan || !st.reach.Visited(c.ID) {
			continue
		}
		if i := h.slot(st, c.ID); i >= 0 {
			h.link(st, c, i, orphan)
			return true
		}
	}

	for ; st.next < len(st.order); st.next++ {
		p := st.order[st.next]
		if i := h.slot(st, p); i >= 0 {
			h.link(st, searcher.Item{ID: p, Dist: h.score(&ls, p)}, i, orphan)
			return true
		}
	}

	return false
}

// link stores the edge parent -> orphan at position i and makes it a tree edge.
func (h *HNSW) link(st *repairState, parent searcher.Item, i int, orphan uint32) {
	conns := h.nodes[parent.ID].connections[0]
	edge := Neighbor{ID: orphan, Dist: parent.Dist}
	if i == len(conns) {
		h.nodes[parent.ID].connections[0] = append(conns, edge)
	} else {
		conns[i] = edge
	}
	st.parent[orphan] = parent.ID

	h.linkBack(orphan, parent)
}

// linkBack gives the orphan an edge to its new parent when it has room.
func (h *HNSW) linkBack(orphan uint32, parent searcher.Item) {
	conns := h.nodes[orphan].connections[0]
	if parent.ID == orphan || len(conns) >= h.maxConnectionsLayer0 {
		return
	}
	for _, c := range conns {
		if c.ID == parent.ID {
			return
		}
	}
	h.nodes[orphan].connections[0] = append(conns, Neighbor{ID: parent.ID, Dist: parent.Dist})
}

// Reachable returns the number of nodes reachable from the entry point on layer 0.
func (h *HNSW) Reachable() int {
	if len(h.nodes) == 0 {
		return 0
	}

	st := &repairState{
		parent: make([]uint32, len(h.nodes)),
		reach:  searcher.NewVisitedSet(len(h.nodes)),
	}
	h.spread(st, h.entryPoint)

	return st.reach.Count()
}
