package searcher

import (
	"slices"
	"sync"
)

// Searcher is a reusable execution context for one graph traversal.
// It owns all scratch memory required for search, eliminating heap allocations
// in the steady state.
//
// Searcher is NOT thread-safe. It is intended to be owned by a single goroutine
// during a search operation.
type Searcher struct {
	// Visited tracks visited nodes during graph traversal.
	Visited *VisitedSet

	// Results is a max-heap holding the best nodes found so far (worst on top).
	Results *PriorityQueue

	// Candidates is a min-heap of nodes still to expand (best on top).
	Candidates *PriorityQueue

	// Selected is a reusable buffer for neighbor selection and result draining.
	Selected []Item

	// Pruned collects candidates rejected by the diversity rule.
	Pruned []Item

	// Matches collects admissible nodes within the radius of a range query.
	Matches []Item

	// ScratchIDs is a reusable buffer for node ids.
	ScratchIDs []uint32

	// Evaluated counts distance computations performed by the traversal.
	Evaluated int
}

var searcherPool = sync.Pool{
	New: func() any {
		return NewSearcher(1024, 128)
	},
}

// NewSearcher creates a new searcher with the given initial capacities.
func NewSearcher(visitedCap, queueCap int) *Searcher {
	return &Searcher{
		Visited:    NewVisitedSet(visitedCap),
		Results:    NewPriorityQueue(true),
		Candidates: NewPriorityQueue(false),
		Selected:   make([]Item, 0, queueCap),
		Pruned:     make([]Item, 0, queueCap),
		Matches:    make([]Item, 0, queueCap),
		ScratchIDs: make([]uint32, 0, queueCap),
	}
}

// Get returns a clean Searcher from the pool.
func Get() *Searcher {
	s := searcherPool.Get().(*Searcher)
	s.Reset()
	return s
}

// Put returns a Searcher to the pool.
func Put(s *Searcher) {
	searcherPool.Put(s)
}

// Reset clears the searcher state for reuse.
func (s *Searcher) Reset() {
	s.Visited.Reset()
	s.Results.Reset()
	s.Candidates.Reset()
	s.Selected = s.Selected[:0]
	s.Pruned = s.Pruned[:0]
	s.Matches = s.Matches[:0]
	s.ScratchIDs = s.ScratchIDs[:0]
	s.Evaluated = 0
}

// DrainSorted pops every result into Selected, best first, and returns it.
func (s *Searcher) DrainSorted() []Item {
	n := s.Results.Len()
	s.Selected = slices.Grow(s.Selected[:0], n)[:n]
	for i := n - 1; i >= 0; i-- {
		s.Selected[i], _ = s.Results.Pop()
	}
	return s.Selected
}
