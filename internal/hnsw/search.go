package hnsw

import (
	"context"
	"slices"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/searcher"
)

const (
	// bruteForceMinCount and bruteForceRatio select exact scoring of a bitmap
	// filter's ids when it admits few nodes.
	bruteForceMinCount = 2000
	bruteForceRatio    = 0.02

	// maxEFExpansion caps the beam widening applied for selective filters.
	maxEFExpansion = 20000
)

// layerSearch carries the per-query state shared by the traversal helpers.
type layerSearch struct {
	query  []float32
	norm   float32
	filter Filter

	ranged bool
	radius float32
}

func (h *HNSW) score(ls *layerSearch, id uint32) float32 {
	return h.vectors.Score(h.metric, id, ls.query, ls.norm)
}

func (ls *layerSearch) admits(id uint32) bool {
	return ls.filter == nil || ls.filter.Matches(id)
}

// collect records an evaluated node for range queries.
func (ls *layerSearch) collect(s *searcher.Searcher, id uint32, dist float32) {
	if ls.ranged && distance.Within(dist, ls.radius) && ls.admits(id) {
		s.Matches = append(s.Matches, searcher.Item{ID: id, Dist: dist})
	}
}

// searchLayer runs a beam search of width ef on one layer. The best admissible
// nodes end up in s.Results. Inadmissible nodes are expanded but never returned.
func (h *HNSW) searchLayer(s *searcher.Searcher, ls *layerSearch, epID uint32, epDist float32, level int, ef int) {
	s.Visited.Reset()
	s.Candidates.Reset()
	s.Results.Reset()

	s.Visited.Visit(epID)
	s.Candidates.Push(searcher.Item{ID: epID, Dist: epDist})
	if ls.admits(epID) {
		s.Results.Push(searcher.Item{ID: epID, Dist: epDist})
	}
	ls.collect(s, epID, epDist)

	candidates := s.Candidates
	results := s.Results

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()

		if results.Len() >= ef {
			if worst, _ := results.Top(); curr.Dist > worst.Dist {
				break
			}
		}

		for _, next := range h.nodes[curr.ID].connections[level] {
			if !s.Visited.Visit(next.ID) {
				continue
			}

			nextDist := h.score(ls, next.ID)
			s.Evaluated++
			ls.collect(s, next.ID, nextDist)

			// Skip obviously-bad candidates once the beam is full.
			if results.Len() >= ef {
				if worst, _ := results.Top(); nextDist > worst.Dist {
					continue
				}
			}

			item := searcher.Item{ID: next.ID, Dist: nextDist}
			candidates.Push(item)

			if ls.admits(next.ID) {
				results.PushBounded(item, ef)
			}
		}
	}
}

// greedySearch descends from the entry point to layer 1 and returns the
// layer 0 entry for the query.
func (h *HNSW) greedySearch(ls *layerSearch) (uint32, float32) {
	currID := h.entryPoint
	currDist := h.score(ls, currID)

	for level := h.maxLevel; level > 0; level-- {
		currID, currDist = h.greedyStep(ls, currID, currDist, level)
	}

	return currID, currDist
}

func (h *HNSW) prepareQuery(q []float32) (layerSearch, error) {
	if len(q) != h.opts.Dimension {
		return layerSearch{}, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}

	ls := layerSearch{query: q}
	if h.metric.NeedsNorm() {
		ls.norm = distance.Norm(q)
		if ls.norm == 0 {
			return layerSearch{}, ErrZeroVector
		}
	}

	return ls, nil
}

// determineEF widens ef inversely to the selectivity of a bitmap filter so
// enough admissible nodes are reached.
func (h *HNSW) determineEF(k, ef int, filter Filter) int {
	if bm, ok := filter.(Bitmap); ok && len(h.nodes) > 0 {
		card := bm.Cardinality()
		total := uint64(len(h.nodes))
		if card > 0 && card < total {
			expanded := float64(ef) * float64(total) / float64(card)
			ef = int(min(expanded, maxEFExpansion))
		}
	}

	return max(ef, k)
}

func (h *HNSW) useBruteForce(filter Filter) (Bitmap, bool) {
	bm, ok := filter.(Bitmap)
	if !ok {
		return nil, false
	}

	card := bm.Cardinality()

	return bm, card < bruteForceMinCount || float64(card) < bruteForceRatio*float64(len(h.nodes))
}

// KNNSearch returns up to k admissible nodes closest to q, best first, ties by id.
func (h *HNSW) KNNSearch(ctx context.Context, s *searcher.Searcher, q []float32, k, ef int, filter Filter) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if k <= 0 {
		return nil, &ErrInvalidOption{Name: "k", Reason: "must be positive"}
	}

	ls, err := h.prepareQuery(q)
	if err != nil {
		return nil, err
	}
	ls.filter = filter

	if len(h.nodes) == 0 {
		return nil, nil
	}

	s.Visited.EnsureCapacity(len(h.nodes))

	if bm, ok := h.useBruteForce(filter); ok {
		if err := h.searchBitmap(ctx, s, &ls, bm, k); err != nil {
			return nil, err
		}
		return toResults(s.DrainSorted(), k), nil
	}

	ep, epDist := h.greedySearch(&ls)
	h.searchLayer(s, &ls, ep, epDist, 0, h.determineEF(k, ef, filter))

	return toResults(s.DrainSorted(), k), nil
}

// RangeSearch returns every admissible node evaluated by a beam search of
// width ef whose score is at most radius, best first. The traversal does not
// depend on radius, so a larger radius yields a superset.
func (h *HNSW) RangeSearch(ctx context.Context, s *searcher.Searcher, q []float32, radius float32, ef int, filter Filter) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ls, err := h.prepareQuery(q)
	if err != nil {
		return nil, err
	}
	ls.filter = filter
	ls.ranged = true
	ls.radius = radius

	if len(h.nodes) == 0 {
		return nil, nil
	}

	s.Visited.EnsureCapacity(len(h.nodes))

	if bm, ok := h.useBruteForce(filter); ok {
		if err := h.searchBitmap(ctx, s, &ls, bm, 0); err != nil {
			return nil, err
		}
	} else {
		ep, epDist := h.greedySearch(&ls)
		h.searchLayer(s, &ls, ep, epDist, 0, h.determineEF(1, ef, filter))
	}

	matches := s.Matches
	slices.SortFunc(matches, compareItems)

	return toResults(matches, len(matches)), nil
}

// searchBitmap scores the ids of bm directly. With k > 0 the best k are kept
// in s.Results; range queries collect into s.Matches.
func (h *HNSW) searchBitmap(ctx context.Context, s *searcher.Searcher, ls *layerSearch, bm Bitmap, k int) error {
	count := uint32(len(h.nodes))
	n := 0

	bm.ForEach(func(id uint32) bool {
		if id >= count {
			return true
		}

		n++
		if n%cancelCheckInterval == 0 && ctx.Err() != nil {
			return false
		}

		dist := h.score(ls, id)
		s.Evaluated++

		if ls.ranged {
			ls.collect(s, id, dist)
		} else {
			s.Results.PushBounded(searcher.Item{ID: id, Dist: dist}, k)
		}

		return true
	})

	return ctx.Err()
}

// BruteSearch scores every admissible node exactly and returns the best k.
func (h *HNSW) BruteSearch(ctx context.Context, s *searcher.Searcher, q []float32, k int, filter Filter) ([]SearchResult, error) {
	ls, err := h.prepareQuery(q)
	if err != nil {
		return nil, err
	}

	for id := range uint32(len(h.nodes)) {
		if id%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if filter != nil && !filter.Matches(id) {
			continue
		}
		s.Results.PushBounded(searcher.Item{ID: id, Dist: h.score(&ls, id)}, k)
	}

	return toResults(s.DrainSorted(), k), nil
}

func toResults(items []searcher.Item, k int) []SearchResult {
	n := min(len(items), k)
	out := make([]SearchResult, n)
	for i := range n {
		out[i] = SearchResult{ID: items[i].ID, Distance: items[i].Dist}
	}
	return out
}
