package vecgraph

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/hupe1980/vecgraph/blobstore"
	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/internal/persistence"
	"github.com/hupe1980/vecgraph/internal/vectorstore"
	"github.com/hupe1980/vecgraph/resource"
)

const blobReadBufferSize = 256 * 1024

func (idx *Index) snapshot(g *hnsw.HNSW) *persistence.Snapshot {
	p := idx.params
	return &persistence.Snapshot{
		Params: persistence.Params{
			Metric:         p.Metric,
			Dimension:      p.Dim,
			M:              p.M,
			EfConstruction: p.EfConstruction,
			Alpha:          p.Alpha,
			Seed:           g.Seed(),
		},
		Vectors: g.Vectors().RawData()[:g.Len()*p.Dim],
		Layout:  g.Export(),
	}
}

// SerializeWriter writes the index to w and returns the number of bytes written.
func (idx *Index) SerializeWriter(ctx context.Context, w io.Writer) (n int64, err error) {
	start := time.Now()
	defer func() {
		idx.opts.metricsCollector.RecordSerialize(n, time.Since(start), err)
	}()

	g, err := idx.ready()
	if err != nil {
		return 0, err
	}

	n, err = idx.encode(ctx, g, w)
	if err != nil {
		return n, ioError("serialize", "", err)
	}

	return n, nil
}

// WriteTo implements io.WriterTo.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	return idx.SerializeWriter(context.Background(), w)
}

func (idx *Index) encode(ctx context.Context, g *hnsw.HNSW, w io.Writer) (int64, error) {
	if idx.opts.resources != nil {
		w = resource.NewRateLimitedWriter(ctx, w, idx.opts.resources)
	}
	return persistence.Encode(w, idx.snapshot(g), idx.opts.compression)
}

// Serialize writes the index to path. The file is replaced atomically;
// a failed call leaves any previous file untouched.
func (idx *Index) Serialize(ctx context.Context, path string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		idx.opts.metricsCollector.RecordSerialize(n, time.Since(start), err)
	}()

	g, err := idx.ready()
	if err != nil {
		return err
	}

	err = persistence.SaveToFile(path, func(w io.Writer) error {
		var werr error
		n, werr = idx.encode(ctx, g, w)
		return werr
	})
	if err != nil {
		return ioError("serialize", path, err)
	}

	idx.opts.logger.WithOp("serialize").WithPath(path).Info("index serialized",
		"bytes", n,
		"compression", idx.opts.compression.String(),
		"duration", time.Since(start),
	)

	return nil
}

// SerializeTo streams the index into the blob name of store.
// The blob becomes visible only when the write completes.
func (idx *Index) SerializeTo(ctx context.Context, store blobstore.BlobStore, name string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		idx.opts.metricsCollector.RecordSerialize(n, time.Since(start), err)
	}()

	g, err := idx.ready()
	if err != nil {
		return err
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return ioError("serialize", name, err)
	}

	bw := bufio.NewWriterSize(wb, blobReadBufferSize)
	n, err = idx.encode(ctx, g, bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		_ = wb.Abort()
		return ioError("serialize", name, err)
	}

	if err := wb.Close(); err != nil {
		return ioError("serialize", name, err)
	}

	idx.opts.logger.WithOp("serialize").WithPath(name).Info("index uploaded",
		"bytes", n,
		"duration", time.Since(start),
	)

	return nil
}

// checkHeader compares the persisted parameters with the expected ones.
// Dimension and metric must agree; other construction parameters are taken
// from the file.
func (idx *Index) checkHeader(h *persistence.Header, expected BuildParams) error {
	if int(h.Dimension) != expected.Dim {
		return &ErrParamMismatch{
			Param:    "dim",
			Expected: strconv.Itoa(expected.Dim),
			Actual:   strconv.FormatUint(uint64(h.Dimension), 10),
		}
	}

	metric := expected.Metric
	if metric == 0 {
		metric = L2
	}
	if stored := distance.Metric(h.Metric); stored != metric {
		return &ErrParamMismatch{
			Param:    "metric_type",
			Expected: metric.String(),
			Actual:   stored.String(),
		}
	}

	if (expected.M != 0 && expected.M != int(h.M)) ||
		(expected.EfConstruction != 0 && expected.EfConstruction != int(h.EfConstruction)) {
		idx.opts.logger.WithOp("deserialize").Warn("construction parameters differ from file, using file values",
			"M", h.M,
			"ef_construction", h.EfConstruction,
		)
	}

	return nil
}

// restore builds the graph from a decoded snapshot. The vector payload is
// charged to the resource controller.
func (idx *Index) restore(ctx context.Context, snap *persistence.Snapshot) (*hnsw.HNSW, int64, error) {
	p := snap.Params
	reserved := int64(len(snap.Vectors)) * 4

	if idx.opts.resources != nil {
		if err := idx.opts.resources.AcquireMemory(ctx, reserved); err != nil {
			return nil, 0, err
		}
	} else {
		reserved = 0
	}

	release := func() {
		if reserved > 0 {
			idx.opts.resources.ReleaseMemory(reserved)
		}
	}

	store, err := vectorstore.FromData(p.Dimension, snap.Vectors, p.Metric.NeedsNorm())
	if err != nil {
		release()
		return nil, 0, errors.Join(persistence.ErrCorrupt, err)
	}

	seed := int64(p.Seed)
	g, err := hnsw.Restore(hnsw.Options{
		Dimension:      p.Dimension,
		Metric:         p.Metric,
		M:              p.M,
		EfConstruction: p.EfConstruction,
		Alpha:          p.Alpha,
		RandomSeed:     &seed,
	}, store, snap.Layout)
	if err != nil {
		release()
		return nil, 0, err
	}

	return g, reserved, nil
}

func paramsFromSnapshot(p persistence.Params) BuildParams {
	return BuildParams{
		Dim:            p.Dimension,
		Metric:         p.Metric,
		M:              p.M,
		EfConstruction: p.EfConstruction,
		Alpha:          p.Alpha,
	}
}

// load runs the shared deserialization sequence: the header is checked
// against expected before the payload is decoded.
func (idx *Index) load(
	ctx context.Context,
	op, path string,
	expected BuildParams,
	header func() (*persistence.Header, error),
	payload func(*persistence.Header) (*persistence.Snapshot, error),
) (err error) {
	if err := idx.begin(); err != nil {
		return err
	}

	var (
		g        *hnsw.HNSW
		params   BuildParams
		reserved int64
	)
	defer func() {
		idx.finish(g, params, reserved, err)
	}()

	if expected.Dim <= 0 {
		return invalidParam("dim must be positive, got %d", expected.Dim)
	}
	if expected.Metric != 0 && !expected.Metric.Valid() {
		return invalidParam("unsupported metric_type %v", expected.Metric)
	}

	h, err := header()
	if err != nil {
		return ioError(op, path, err)
	}

	if err := idx.checkHeader(h, expected); err != nil {
		return err
	}

	snap, err := payload(h)
	if err != nil {
		return ioError(op, path, err)
	}

	g, reserved, err = idx.restore(ctx, snap)
	if err != nil {
		return ioError(op, path, err)
	}
	params = paramsFromSnapshot(snap.Params)

	idx.opts.logger.WithOp(op).WithPath(path).Info("index loaded",
		"vectors", g.Len(),
		"dimension", params.Dim,
		"metric", params.Metric.String(),
		"compression", persistence.Compression(h.Compression).String(),
	)

	return nil
}

// Deserialize loads the index at path into an empty index. The file's
// dimension and metric must match expected, otherwise *ErrParamMismatch is
// returned and the index stays empty.
func (idx *Index) Deserialize(ctx context.Context, path string, expected BuildParams) (err error) {
	start := time.Now()
	var size int64
	defer func() {
		idx.opts.metricsCollector.RecordDeserialize(size, time.Since(start), err)
	}()

	var f *persistence.File
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	return idx.load(ctx, "deserialize", path, expected,
		func() (*persistence.Header, error) {
			var err error
			if f, err = persistence.OpenFile(path); err != nil {
				return nil, err
			}
			size = int64(f.Size())
			return f.Header, nil
		},
		func(*persistence.Header) (*persistence.Snapshot, error) {
			if err := idx.opts.resources.AcquireIO(ctx, f.Size()); err != nil {
				return nil, err
			}
			return f.Snapshot()
		},
	)
}

// DeserializeReader loads an index from r into an empty index.
// Bytes after the payload are not consumed.
func (idx *Index) DeserializeReader(ctx context.Context, r io.Reader, expected BuildParams) (err error) {
	start := time.Now()
	var size int64
	defer func() {
		idx.opts.metricsCollector.RecordDeserialize(size, time.Since(start), err)
	}()

	if idx.opts.resources != nil {
		r = resource.NewRateLimitedReader(ctx, r, idx.opts.resources)
	}

	return idx.load(ctx, "deserialize", "", expected,
		func() (*persistence.Header, error) {
			return persistence.ReadHeader(r)
		},
		func(h *persistence.Header) (*persistence.Snapshot, error) {
			snap, err := persistence.ReadSnapshot(r, h)
			if err == nil {
				size = int64(persistence.HeaderSize) + int64(h.StoredLength)
			}
			return snap, err
		},
	)
}

// DeserializeFrom loads the blob name of store into an empty index.
func (idx *Index) DeserializeFrom(ctx context.Context, store blobstore.BlobStore, name string, expected BuildParams) (err error) {
	start := time.Now()
	var size int64
	defer func() {
		idx.opts.metricsCollector.RecordDeserialize(size, time.Since(start), err)
	}()

	if err := idx.checkEmpty(); err != nil {
		return err
	}

	b, err := store.Open(ctx, name)
	if err != nil {
		return ioError("deserialize", name, err)
	}
	defer b.Close()
	size = b.Size()

	if m, ok := b.(blobstore.Mappable); ok {
		var data []byte
		return idx.load(ctx, "deserialize", name, expected,
			func() (*persistence.Header, error) {
				var err error
				if data, err = m.Bytes(); err != nil {
					return nil, err
				}
				return persistence.ReadHeader(bytes.NewReader(data))
			},
			func(*persistence.Header) (*persistence.Snapshot, error) {
				if err := idx.opts.resources.AcquireIO(ctx, len(data)); err != nil {
					return nil, err
				}
				return persistence.DecodeBytes(data)
			},
		)
	}

	var r io.Reader = bytes.NewReader(nil)
	if size > 0 {
		rc, err := b.ReadRange(ctx, 0, size)
		if err != nil {
			return ioError("deserialize", name, err)
		}
		defer rc.Close()
		r = bufio.NewReaderSize(rc, blobReadBufferSize)
	}
	if idx.opts.resources != nil {
		r = resource.NewRateLimitedReader(ctx, r, idx.opts.resources)
	}

	return idx.load(ctx, "deserialize", name, expected,
		func() (*persistence.Header, error) {
			return persistence.ReadHeader(r)
		},
		func(h *persistence.Header) (*persistence.Snapshot, error) {
			snap, err := persistence.ReadSnapshot(r, h)
			if err != nil {
				return nil, err
			}
			if n, _ := r.Read(make([]byte, 1)); n > 0 {
				return nil, persistence.ErrTrailingData
			}
			return snap, nil
		},
	)
}

// Load opens the index at path. No index is returned on error.
func Load(ctx context.Context, path string, expected BuildParams, optFns ...Option) (*Index, error) {
	idx := New(optFns...)
	if err := idx.Deserialize(ctx, path, expected); err != nil {
		return nil, err
	}
	return idx, nil
}

// LoadFrom opens the blob name of store. No index is returned on error.
func LoadFrom(ctx context.Context, store blobstore.BlobStore, name string, expected BuildParams, optFns ...Option) (*Index, error) {
	idx := New(optFns...)
	if err := idx.DeserializeFrom(ctx, store, name, expected); err != nil {
		return nil, err
	}
	return idx, nil
}
