package vecgraph

import (
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecgraph/internal/hnsw"
)

// Filter decides which ids may appear in query results.
// Rejected ids are still used to navigate the graph.
type Filter interface {
	Admit(id uint64) bool
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(id uint64) bool

// Admit implements Filter.
func (f FilterFunc) Admit(id uint64) bool { return f(id) }

// BitmapFilter is an allow-list backed by a roaring bitmap.
// Because its cardinality is known, very selective bitmaps are answered by
// scoring the admitted ids directly instead of traversing the graph.
type BitmapFilter struct {
	rb *roaring.Bitmap
}

// NewBitmapFilter creates an allow-list of ids.
// Ids above math.MaxUint32 can never be stored in an index and are dropped.
func NewBitmapFilter(ids ...uint64) *BitmapFilter {
	f := &BitmapFilter{rb: roaring.New()}
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// BitmapFilterOf wraps an existing roaring bitmap without copying it.
func BitmapFilterOf(rb *roaring.Bitmap) *BitmapFilter {
	if rb == nil {
		rb = roaring.New()
	}
	return &BitmapFilter{rb: rb}
}

// Add admits id.
func (f *BitmapFilter) Add(id uint64) {
	if id <= math.MaxUint32 {
		f.rb.Add(uint32(id))
	}
}

// AddRange admits every id in [start, end).
func (f *BitmapFilter) AddRange(start, end uint64) {
	end = min(end, math.MaxUint32+1)
	if start < end {
		f.rb.AddRange(start, end)
	}
}

// Admit implements Filter.
func (f *BitmapFilter) Admit(id uint64) bool {
	return id <= math.MaxUint32 && f.rb.Contains(uint32(id))
}

// Cardinality returns the number of admitted ids.
func (f *BitmapFilter) Cardinality() uint64 {
	return f.rb.GetCardinality()
}

// Bitmap returns the underlying roaring bitmap.
func (f *BitmapFilter) Bitmap() *roaring.Bitmap {
	return f.rb
}

// Matches implements hnsw.Filter.
func (f *BitmapFilter) Matches(id uint32) bool {
	return f.rb.Contains(id)
}

// ForEach implements hnsw.Bitmap.
func (f *BitmapFilter) ForEach(fn func(id uint32) bool) {
	it := f.rb.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// BitsetView is a packed bitset in which a set bit marks an id as filtered
// out, the convention used by knowhere. Bit i lives in byte i/8 at position
// i%8 (least significant bit first). Ids at or beyond Len are filtered out.
type BitsetView struct {
	data []byte
	n    uint64
}

// NewBitsetView wraps data holding n bits. It panics if data is too short.
func NewBitsetView(data []byte, n uint64) BitsetView {
	if uint64(len(data))*8 < n {
		panic("vecgraph: bitset shorter than its bit length")
	}
	return BitsetView{data: data, n: n}
}

// Len returns the number of bits.
func (b BitsetView) Len() uint64 { return b.n }

// Test reports whether id is filtered out.
func (b BitsetView) Test(id uint64) bool {
	if id >= b.n {
		return true
	}
	return b.data[id>>3]&(1<<(id&7)) != 0
}

// Admit implements Filter.
func (b BitsetView) Admit(id uint64) bool { return !b.Test(id) }

// Matches implements hnsw.Filter.
func (b BitsetView) Matches(id uint32) bool { return !b.Test(uint64(id)) }

// Cardinality returns the number of admitted ids.
func (b BitsetView) Cardinality() uint64 {
	full := b.n / 8
	var set uint64
	for _, x := range b.data[:full] {
		set += uint64(bits.OnesCount8(x))
	}
	if rem := b.n % 8; rem != 0 {
		set += uint64(bits.OnesCount8(b.data[full] & (1<<rem - 1)))
	}
	return b.n - set
}

// ForEach implements hnsw.Bitmap.
func (b BitsetView) ForEach(fn func(id uint32) bool) {
	limit := min(b.n, math.MaxUint32+1)
	for id := uint64(0); id < limit; id++ {
		if b.data[id>>3]&(1<<(id&7)) == 0 && !fn(uint32(id)) {
			return
		}
	}
}

var (
	_ hnsw.Bitmap = (*BitmapFilter)(nil)
	_ hnsw.Bitmap = BitsetView{}
)

type filterAdapter struct {
	f Filter
}

func (a filterAdapter) Matches(id uint32) bool { return a.f.Admit(uint64(id)) }

// graphFilter converts f for the graph engine, keeping the enumerable
// implementations visible to its filtered-search planning.
func graphFilter(f Filter) hnsw.Filter {
	switch x := f.(type) {
	case nil:
		return nil
	case hnsw.Filter:
		return x
	default:
		return filterAdapter{f: f}
	}
}
