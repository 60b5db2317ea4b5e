package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/hnsw"
)

// ErrInvalidSnapshot is returned by Encode for inconsistent snapshots.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Params are the build parameters stored with a snapshot.
type Params struct {
	Metric         distance.Metric
	Dimension      int
	M              int
	EfConstruction int
	Alpha          float32
	Seed           uint64
}

// Snapshot is a fully decoded graph file.
type Snapshot struct {
	Params Params

	// Vectors holds Count*Dimension values in id order.
	Vectors []float32

	Layout hnsw.Layout
}

// Count returns the number of stored vectors.
func (s *Snapshot) Count() int {
	if s.Params.Dimension <= 0 {
		return 0
	}
	return len(s.Vectors) / s.Params.Dimension
}

// Encode writes snap to w and returns the number of bytes written.
func Encode(w io.Writer, snap *Snapshot, c Compression) (int64, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrUnknownEncoding, c)
	}

	p := snap.Params
	if p.Dimension <= 0 || len(snap.Vectors)%p.Dimension != 0 {
		return 0, fmt.Errorf("%w: %d values do not fit dimension %d", ErrInvalidSnapshot, len(snap.Vectors), p.Dimension)
	}

	count := snap.Count()
	if len(snap.Layout.Levels) != count || len(snap.Layout.Connections) != count {
		return 0, fmt.Errorf("%w: %d vectors but %d levels and %d adjacency entries",
			ErrInvalidSnapshot, count, len(snap.Layout.Levels), len(snap.Layout.Connections))
	}

	raw := appendPayload(make([]byte, 0, payloadSize(snap)), snap)

	stored, err := compress(raw, c)
	if err != nil {
		return 0, err
	}

	h := &Header{
		Magic:          Magic,
		Version:        Version,
		Metric:         uint8(p.Metric),
		Compression:    uint8(c),
		Dimension:      uint32(p.Dimension),
		M:              uint32(p.M),
		EfConstruction: uint32(p.EfConstruction),
		Alpha:          p.Alpha,
		Count:          uint64(count),
		Seed:           p.Seed,
		EntryPoint:     snap.Layout.EntryPoint,
		MaxLevel:       uint8(snap.Layout.MaxLevel),
		RawLength:      uint64(len(raw)),
		StoredLength:   uint64(len(stored)),
		Checksum:       Checksum(raw),
	}

	n, err := w.Write(h.marshal())
	written := int64(n)
	if err != nil {
		return written, err
	}

	n, err = w.Write(stored)
	written += int64(n)

	return written, err
}

func payloadSize(snap *Snapshot) int {
	size := len(snap.Vectors) * 4
	for _, layers := range snap.Layout.Connections {
		size++
		for _, list := range layers {
			size += 4 + 8*len(list)
		}
	}
	return size
}

func appendPayload(buf []byte, snap *Snapshot) []byte {
	for _, v := range snap.Vectors {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}

	for id, layers := range snap.Layout.Connections {
		buf = append(buf, snap.Layout.Levels[id])
		for _, list := range layers {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(list)))
			for _, n := range list {
				buf = binary.LittleEndian.AppendUint32(buf, n.ID)
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(n.Dist))
			}
		}
	}

	return buf
}

// ReadHeader reads and validates the file header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, readError(err)
	}
	return unmarshalHeader(buf)
}

// ReadSnapshot reads the payload that follows h from r.
func ReadSnapshot(r io.Reader, h *Header) (*Snapshot, error) {
	if h.StoredLength > math.MaxInt64 {
		return nil, ErrTruncated
	}

	stored, err := io.ReadAll(io.LimitReader(r, int64(h.StoredLength)))
	if err != nil {
		return nil, readError(err)
	}
	if uint64(len(stored)) != h.StoredLength {
		return nil, fmt.Errorf("%w: payload has %d of %d bytes", ErrTruncated, len(stored), h.StoredLength)
	}

	return decodeStored(stored, h)
}

// Decode reads a complete snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return ReadSnapshot(r, h)
}

// DecodeBytes decodes a snapshot that spans exactly data.
func DecodeBytes(data []byte) (*Snapshot, error) {
	h, err := unmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	return decodeBody(data[HeaderSize:], h)
}

func decodeBody(body []byte, h *Header) (*Snapshot, error) {
	switch {
	case uint64(len(body)) < h.StoredLength:
		return nil, fmt.Errorf("%w: payload has %d of %d bytes", ErrTruncated, len(body), h.StoredLength)
	case uint64(len(body)) > h.StoredLength:
		return nil, ErrTrailingData
	}
	return decodeStored(body, h)
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}

func decodeStored(stored []byte, h *Header) (*Snapshot, error) {
	raw, err := decompress(stored, Compression(h.Compression), h.RawLength)
	if err != nil {
		return nil, err
	}

	if sum := Checksum(raw); sum != h.Checksum {
		return nil, &ChecksumMismatchError{Section: "payload", Expected: h.Checksum, Actual: sum}
	}

	return parsePayload(raw, h)
}

// cursor reads little-endian values from a byte slice.
type cursor struct {
	buf []byte
}

func (c *cursor) take(n uint64) ([]byte, error) {
	if n > uint64(len(c.buf)) {
		return nil, ErrTruncated
	}
	b := c.buf[:n]
	c.buf = c.buf[n:]
	return b, nil
}

func parsePayload(raw []byte, h *Header) (*Snapshot, error) {
	dim := uint64(h.Dimension)
	count := h.Count

	// Each node needs its vector, a level byte and at least one degree word.
	if count > uint64(len(raw))/(4*dim+5) {
		return nil, fmt.Errorf("%w: %d nodes do not fit %d payload bytes", ErrTruncated, count, len(raw))
	}

	cur := &cursor{buf: raw}

	block, err := cur.take(count * dim * 4)
	if err != nil {
		return nil, err
	}
	vectors := make([]float32, count*dim)
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(block[4*i:]))
	}

	levels := make([]uint8, count)
	conns := make([][][]hnsw.Neighbor, count)

	for id := range count {
		b, err := cur.take(1)
		if err != nil {
			return nil, err
		}

		level := b[0]
		if level > h.MaxLevel {
			return nil, fmt.Errorf("%w: node %d has level %d above top level %d", ErrCorrupt, id, level, h.MaxLevel)
		}

		layers := make([][]hnsw.Neighbor, int(level)+1)
		for l := range layers {
			b, err := cur.take(4)
			if err != nil {
				return nil, err
			}

			degree := uint64(binary.LittleEndian.Uint32(b))
			if degree > 2*uint64(h.M) {
				return nil, fmt.Errorf("%w: node %d layer %d has degree %d", ErrCorrupt, id, l, degree)
			}

			edges, err := cur.take(degree * 8)
			if err != nil {
				return nil, err
			}

			list := make([]hnsw.Neighbor, degree)
			for j := range list {
				list[j] = hnsw.Neighbor{
					ID:   binary.LittleEndian.Uint32(edges[8*j:]),
					Dist: math.Float32frombits(binary.LittleEndian.Uint32(edges[8*j+4:])),
				}
			}
			layers[l] = list
		}

		levels[id] = level
		conns[id] = layers
	}

	if len(cur.buf) != 0 {
		return nil, ErrTrailingData
	}

	return &Snapshot{
		Params:  h.Params(),
		Vectors: vectors,
		Layout: hnsw.Layout{
			EntryPoint:  h.EntryPoint,
			MaxLevel:    int(h.MaxLevel),
			Levels:      levels,
			Connections: conns,
		},
	}, nil
}
