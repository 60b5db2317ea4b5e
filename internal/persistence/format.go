package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/vecgraph/distance"
)

const (
	// Magic identifies graph files ("VGR1" little-endian).
	Magic = 0x31524756
	// Version is the current file format version.
	Version = 1
	// HeaderSize is the encoded size of Header.
	HeaderSize = 80
)

var (
	// ErrCorrupt is the root of every structural decoding failure.
	ErrCorrupt = errors.New("persistence: corrupt data")

	ErrInvalidMagic    = fmt.Errorf("%w: invalid magic number", ErrCorrupt)
	ErrInvalidVersion  = fmt.Errorf("%w: unsupported version", ErrCorrupt)
	ErrTruncated       = fmt.Errorf("%w: unexpected end of data", ErrCorrupt)
	ErrTrailingData    = fmt.Errorf("%w: trailing bytes after payload", ErrCorrupt)
	ErrUnknownEncoding = errors.New("unknown compression")
)

// Compression selects how the payload is stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression parses "none", "lz4" or "zstd". The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
	}
}

// Valid reports whether c is a known compression.
func (c Compression) Valid() bool {
	return c <= CompressionZSTD
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// Header is the fixed-size prefix of every graph file.
type Header struct {
	Magic          uint32
	Version        uint16
	Metric         uint8
	Compression    uint8
	Dimension      uint32
	M              uint32
	EfConstruction uint32
	Alpha          float32
	Count          uint64
	Seed           uint64
	EntryPoint     uint32
	MaxLevel       uint8
	Reserved1      [3]byte
	RawLength      uint64
	StoredLength   uint64
	Checksum       uint32
	Reserved2      [8]byte
	HeaderChecksum uint32
}

// Params returns the build parameters recorded in the header.
func (h *Header) Params() Params {
	return Params{
		Metric:         distance.Metric(h.Metric),
		Dimension:      int(h.Dimension),
		M:              int(h.M),
		EfConstruction: int(h.EfConstruction),
		Alpha:          h.Alpha,
		Seed:           h.Seed,
	}
}

func (h *Header) marshal() []byte {
	buf, _ := binary.Append(make([]byte, 0, HeaderSize), binary.LittleEndian, h)
	binary.LittleEndian.PutUint32(buf[HeaderSize-4:], Checksum(buf[:HeaderSize-4]))
	return buf
}

func unmarshalHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTruncated
	}

	h := &Header{}
	if _, err := binary.Decode(buf[:HeaderSize], binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if h.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	if sum := Checksum(buf[:HeaderSize-4]); sum != h.HeaderChecksum {
		return nil, &ChecksumMismatchError{Section: "header", Expected: h.HeaderChecksum, Actual: sum}
	}

	if err := h.validate(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Header) validate() error {
	switch {
	case !distance.Metric(h.Metric).Valid():
		return fmt.Errorf("%w: unknown metric %d", ErrCorrupt, h.Metric)
	case !Compression(h.Compression).Valid():
		return fmt.Errorf("%w: unknown compression %d", ErrCorrupt, h.Compression)
	case h.Dimension == 0 || h.M == 0 || h.EfConstruction == 0:
		return fmt.Errorf("%w: zero build parameter", ErrCorrupt)
	case !(h.Alpha >= 1) || math.IsInf(float64(h.Alpha), 0):
		return fmt.Errorf("%w: invalid alpha %g", ErrCorrupt, h.Alpha)
	case Compression(h.Compression) == CompressionNone && h.RawLength != h.StoredLength:
		return fmt.Errorf("%w: uncompressed payload length %d differs from stored length %d",
			ErrCorrupt, h.RawLength, h.StoredLength)
	}
	return nil
}
