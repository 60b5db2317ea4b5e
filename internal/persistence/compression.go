package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// blockSize is the uncompressed size of every block but the last.
	blockSize = 1 << 20

	// blockHeaderSize prefixes each block: [raw size uint32][stored size uint32].
	// A stored size of 0 marks a block kept uncompressed.
	blockHeaderSize = 8
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(2*blockSize))
}

// compress splits raw into blocks and compresses each one.
func compress(raw []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return raw, nil
	}

	out := make([]byte, 0, len(raw)/2+blockHeaderSize)
	for off := 0; off < len(raw); off += blockSize {
		block := raw[off:min(off+blockSize, len(raw))]

		var packed []byte
		var err error
		switch c {
		case CompressionLZ4:
			packed, err = compressLZ4(block)
		case CompressionZSTD:
			packed, err = compressZSTD(block)
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnknownEncoding, c)
		}
		if err != nil {
			return nil, err
		}

		// Blocks that do not shrink by at least 10% are stored raw.
		if len(packed) == 0 || float64(len(packed)) > float64(len(block))*0.9 {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(block)))
			out = binary.LittleEndian.AppendUint32(out, 0)
			out = append(out, block...)
			continue
		}

		out = binary.LittleEndian.AppendUint32(out, uint32(len(block)))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(packed)))
		out = append(out, packed...)
	}

	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}

	return dst[:n], nil
}

func compressZSTD(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

// decompress reverses compress. rawLength is the expected total size.
func decompress(stored []byte, c Compression, rawLength uint64) ([]byte, error) {
	if c == CompressionNone {
		return stored, nil
	}

	// Preallocation is bounded by the block count so a forged length
	// cannot force a huge allocation.
	blocks := uint64(len(stored)/blockHeaderSize + 1)
	out := make([]byte, 0, min(rawLength, blocks*blockSize))

	for off := 0; off < len(stored); {
		if len(stored)-off < blockHeaderSize {
			return nil, fmt.Errorf("%w: block header at offset %d", ErrTruncated, off)
		}

		rawSize := int(binary.LittleEndian.Uint32(stored[off:]))
		storedSize := int(binary.LittleEndian.Uint32(stored[off+4:]))
		off += blockHeaderSize

		if rawSize == 0 || rawSize > blockSize {
			return nil, fmt.Errorf("%w: block size %d", ErrCorrupt, rawSize)
		}

		if storedSize == 0 {
			if len(stored)-off < rawSize {
				return nil, fmt.Errorf("%w: raw block at offset %d", ErrTruncated, off)
			}
			out = append(out, stored[off:off+rawSize]...)
			off += rawSize
			continue
		}

		if len(stored)-off < storedSize {
			return nil, fmt.Errorf("%w: compressed block at offset %d", ErrTruncated, off)
		}

		block, err := decompressBlock(stored[off:off+storedSize], c, rawSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out = append(out, block...)
		off += storedSize
	}

	if uint64(len(out)) != rawLength {
		return nil, fmt.Errorf("%w: payload decompressed to %d bytes, header says %d", ErrCorrupt, len(out), rawLength)
	}

	return out, nil
}

func decompressBlock(data []byte, c Compression, rawSize int) ([]byte, error) {
	result := make([]byte, rawSize)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(data, result)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return result, nil

	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(data, result[:0])
		if err != nil {
			return nil, err
		}
		if len(decoded) != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownEncoding, c)
	}
}
