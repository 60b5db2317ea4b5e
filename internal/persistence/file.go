package persistence

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/vecgraph/internal/mmap"
)

const ioBufferSize = 256 * 1024

// SaveToFile writes through writeFunc into a temporary file next to
// filename and renames it into place once the data is synced.
// A failed save leaves any previous file untouched.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, ioBufferSize)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	// Best effort: make the rename durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// LoadFromFile opens filename and passes a buffered reader to readFunc.
func LoadFromFile(filename string, readFunc func(io.Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return readFunc(bufio.NewReaderSize(f, ioBufferSize))
}

// File is a memory-mapped graph file whose header has been validated.
type File struct {
	Header *Header

	m *mmap.Mapping
}

// OpenFile maps filename and validates its header.
// The payload is decoded lazily by Snapshot.
func OpenFile(filename string) (*File, error) {
	m, err := mmap.Open(filename)
	if err != nil {
		return nil, err
	}

	h, err := unmarshalHeader(m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	return &File{Header: h, m: m}, nil
}

// Snapshot decodes the payload. The result does not reference the mapping.
func (f *File) Snapshot() (*Snapshot, error) {
	_ = f.m.Advise(mmap.AccessSequential)
	return decodeBody(f.m.Bytes()[HeaderSize:], f.Header)
}

// Size returns the file size in bytes.
func (f *File) Size() int {
	return f.m.Size()
}

// Close releases the mapping.
func (f *File) Close() error {
	return f.m.Close()
}
