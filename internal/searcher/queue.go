package searcher

// Item is a scored node reference held by a PriorityQueue.
type Item struct {
	ID   uint32  // ID is the node id.
	Dist float32 // Dist is the score; lower is better.
}

// Better reports whether a ranks before b. Equal scores are ordered by
// ascending id so that traversals are deterministic.
func Better(a, b Item) bool {
	if a.Dist != b.Dist {
		return a.Dist < b.Dist
	}
	return a.ID < b.ID
}

// PriorityQueue implements a binary heap of Items.
// It is value-based and does not implement container/heap to avoid interface overhead.
type PriorityQueue struct {
	isMaxHeap bool // true = worst item on top, false = best item on top
	items     []Item
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue(isMaxHeap bool) *PriorityQueue {
	return &PriorityQueue{
		isMaxHeap: isMaxHeap,
		items:     make([]Item, 0, 16),
	}
}

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

// Len returns the number of elements in the heap.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// Top returns the top element of the heap.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushBounded inserts an item into a max heap holding at most capacity items.
// When the heap is full the item replaces the top only if it ranks better.
// It reports whether the item was kept.
func (pq *PriorityQueue) PushBounded(item Item, capacity int) bool {
	if len(pq.items) < capacity {
		pq.Push(item)
		return true
	}

	if capacity == 0 || !Better(item, pq.items[0]) {
		return false
	}

	pq.items[0] = item
	pq.siftDown(0)

	return true
}

// Pop removes and returns the top element from the heap.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}

	item := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]

	if len(pq.items) > 0 {
		pq.siftDown(0)
	}

	return item, true
}

// Items returns the underlying heap storage. The order is unspecified and
// the slice is only valid until the next mutation.
func (pq *PriorityQueue) Items() []Item {
	return pq.items
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.isMaxHeap {
		return Better(pq.items[j], pq.items[i])
	}
	return Better(pq.items[i], pq.items[j])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(i, parent) {
			break
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && pq.less(right, left) {
			child = right
		}
		if !pq.less(child, i) {
			break
		}
		pq.items[i], pq.items[child] = pq.items[child], pq.items[i]
		i = child
	}
}
