package vecgraph_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecgraph"
	"github.com/hupe1980/vecgraph/blobstore"
	"github.com/hupe1980/vecgraph/blobstore/sqlite"
	"github.com/hupe1980/vecgraph/internal/persistence"
	"github.com/hupe1980/vecgraph/resource"
	"github.com/hupe1980/vecgraph/testutil"
)

// streamingStore hides blobstore.Mappable so loads go through ReadRange.
type streamingStore struct {
	blobstore.BlobStore
}

type streamingBlob struct {
	b blobstore.Blob
}

func (s streamingStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	b, err := s.BlobStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return streamingBlob{b: b}, nil
}

func (b streamingBlob) Close() error { return b.b.Close() }
func (b streamingBlob) Size() int64  { return b.b.Size() }

func (b streamingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return b.b.ReadAt(ctx, p, off)
}

func (b streamingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return b.b.ReadRange(ctx, off, length)
}

// assertSameAnswers checks that b answers every query exactly like a.
func assertSameAnswers(t *testing.T, a, b *vecgraph.Index, queries [][]float32) {
	t.Helper()
	ctx := context.Background()

	sp := vecgraph.SearchParams{K: 10, EfSearch: 64}
	want, err := a.Search(ctx, queries, sp, nil)
	require.NoError(t, err)
	got, err := b.Search(ctx, queries, sp, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	odd := vecgraph.FilterFunc(func(id uint64) bool { return id%2 == 1 })
	want, err = a.Search(ctx, queries, sp, odd)
	require.NoError(t, err)
	got, err = b.Search(ctx, queries, sp, odd)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rp := vecgraph.RangeParams{Radius: 0.5, EfSearch: 64}
	want, err = a.RangeSearch(ctx, queries, rp, nil)
	require.NoError(t, err)
	got, err = b.RangeSearch(ctx, queries, rp, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	pa, err := a.Params()
	require.NoError(t, err)
	pb, err := b.Params()
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestPersist_RoundTripFile(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(21)
	vectors := rng.UniformVectors(1500, 16)
	queries := rng.UniformVectors(20, 16)

	for _, metric := range []vecgraph.Metric{vecgraph.L2, vecgraph.IP, vecgraph.Cosine} {
		for _, c := range []vecgraph.Compression{vecgraph.CompressionNone, vecgraph.CompressionLZ4, vecgraph.CompressionZSTD} {
			t.Run(metric.String()+"/"+c.String(), func(t *testing.T) {
				params := smallParams(16, metric)
				idx := buildIndex(t, vectors, params, vecgraph.WithCompression(c))

				path := filepath.Join(t.TempDir(), "index.vgr")
				require.NoError(t, idx.Serialize(ctx, path))

				loaded, err := vecgraph.Load(ctx, path, vecgraph.BuildParams{Dim: 16, Metric: metric})
				require.NoError(t, err)
				defer loaded.Close()

				assert.Equal(t, idx.Size(), loaded.Size())
				assertSameAnswers(t, idx, loaded, queries)

				got, err := loaded.GetVectorByIds([]uint64{0, 777, 1499})
				require.NoError(t, err)
				assert.Equal(t, [][]float32{vectors[0], vectors[777], vectors[1499]}, got)
			})
		}
	}
}

func TestPersist_RoundTripWriter(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(22)
	vectors := rng.UniformVectors(800, 8)
	queries := rng.UniformVectors(10, 8)

	idx := buildIndex(t, vectors, smallParams(8, vecgraph.L2), vecgraph.WithCompression(vecgraph.CompressionZSTD))

	var buf bytes.Buffer
	n, err := idx.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	buf.WriteString("trailer")

	loaded := vecgraph.New()
	require.NoError(t, loaded.DeserializeReader(ctx, &buf, smallParams(8, vecgraph.L2)))
	assert.Equal(t, "trailer", buf.String(), "reader must stop after the payload")

	assertSameAnswers(t, idx, loaded, queries)
}

func TestPersist_RoundTripBlobStores(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(23)
	vectors := rng.UniformVectors(600, 8)
	queries := rng.UniformVectors(10, 8)

	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stores := map[string]blobstore.BlobStore{
		"local":  blobstore.NewLocalStore(t.TempDir()),
		"memory": blobstore.NewMemoryStore(),
		"sqlite": db,
		"stream": streamingStore{BlobStore: blobstore.NewMemoryStore()},
	}

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 64 << 20})
	idx := buildIndex(t, vectors, smallParams(8, vecgraph.L2),
		vecgraph.WithCompression(vecgraph.CompressionLZ4),
		vecgraph.WithResourceController(rc),
	)

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.SerializeTo(ctx, store, "indexes/main.vgr"))

			names, err := store.List(ctx, "indexes/")
			require.NoError(t, err)
			assert.Equal(t, []string{"indexes/main.vgr"}, names)

			loaded, err := vecgraph.LoadFrom(ctx, store, "indexes/main.vgr", smallParams(8, vecgraph.L2))
			require.NoError(t, err)
			defer loaded.Close()

			assertSameAnswers(t, idx, loaded, queries)

			_, err = vecgraph.LoadFrom(ctx, store, "indexes/missing.vgr", smallParams(8, vecgraph.L2))
			assert.ErrorIs(t, err, vecgraph.ErrIOFailure)
			assert.ErrorIs(t, err, blobstore.ErrNotFound)
		})
	}
}

func TestPersist_StreamingBlobErrors(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(27)
	idx := buildIndex(t, rng.UniformVectors(100, 4), smallParams(4, vecgraph.L2))

	mem := blobstore.NewMemoryStore()
	store := streamingStore{BlobStore: mem}
	require.NoError(t, idx.SerializeTo(ctx, store, "a.vgr"))

	blob, err := mem.Open(ctx, "a.vgr")
	require.NoError(t, err)
	data, err := blobstore.ReadAll(ctx, blob)
	require.NoError(t, err)

	require.NoError(t, mem.Put(ctx, "trailing.vgr", append(bytes.Clone(data), 0)))
	require.NoError(t, mem.Put(ctx, "empty.vgr", nil))
	require.NoError(t, mem.Put(ctx, "mismatch.vgr", data))

	_, err = vecgraph.LoadFrom(ctx, store, "trailing.vgr", smallParams(4, vecgraph.L2))
	assert.ErrorIs(t, err, vecgraph.ErrCorruptData)

	_, err = vecgraph.LoadFrom(ctx, store, "empty.vgr", smallParams(4, vecgraph.L2))
	assert.ErrorIs(t, err, vecgraph.ErrCorruptData)

	_, err = vecgraph.LoadFrom(ctx, store, "mismatch.vgr", smallParams(5, vecgraph.L2))
	var pm *vecgraph.ErrParamMismatch
	assert.ErrorAs(t, err, &pm)
}

func TestPersist_ParamMismatch(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(24)
	idx := buildIndex(t, rng.UniformVectors(100, 8), smallParams(8, vecgraph.L2))

	path := filepath.Join(t.TempDir(), "index.vgr")
	require.NoError(t, idx.Serialize(ctx, path))

	t.Run("dim", func(t *testing.T) {
		loaded, err := vecgraph.Load(ctx, path, smallParams(16, vecgraph.L2))
		assert.Nil(t, loaded)

		var pm *vecgraph.ErrParamMismatch
		require.ErrorAs(t, err, &pm)
		assert.Equal(t, "dim", pm.Param)
		assert.Equal(t, "16", pm.Expected)
		assert.Equal(t, "8", pm.Actual)
	})

	t.Run("metric", func(t *testing.T) {
		loaded, err := vecgraph.Load(ctx, path, smallParams(8, vecgraph.Cosine))
		assert.Nil(t, loaded)

		var pm *vecgraph.ErrParamMismatch
		require.ErrorAs(t, err, &pm)
		assert.Equal(t, "metric_type", pm.Param)
		assert.Equal(t, "COSINE", pm.Expected)
		assert.Equal(t, "L2", pm.Actual)
	})

	t.Run("index stays empty", func(t *testing.T) {
		fresh := vecgraph.New()
		err := fresh.Deserialize(ctx, path, smallParams(4, vecgraph.L2))
		var pm *vecgraph.ErrParamMismatch
		require.ErrorAs(t, err, &pm)
		assert.Equal(t, 0, fresh.Size())

		require.NoError(t, fresh.Deserialize(ctx, path, smallParams(8, vecgraph.L2)))
		assert.Equal(t, 100, fresh.Size())
	})

	t.Run("construction parameters come from the file", func(t *testing.T) {
		p := smallParams(8, vecgraph.L2)
		p.M = 32

		loaded, err := vecgraph.Load(ctx, path, p)
		require.NoError(t, err)
		got, err := loaded.Params()
		require.NoError(t, err)
		assert.Equal(t, 8, got.M)
	})
}

func TestPersist_OutOfRangeStoredParams(t *testing.T) {
	ctx := context.Background()
	data := testutil.NewRNG(3).UniformVectors(100, 8)
	idx := buildIndex(t, data, smallParams(8, vecgraph.L2))

	var buf bytes.Buffer
	_, err := idx.SerializeWriter(ctx, &buf)
	require.NoError(t, err)

	snap, err := persistence.DecodeBytes(buf.Bytes())
	require.NoError(t, err)

	// Header and payload checksums are valid; only the stored M is unusable.
	snap.Params.M = 1 << 20
	var tampered bytes.Buffer
	_, err = persistence.Encode(&tampered, snap, persistence.CompressionNone)
	require.NoError(t, err)

	loaded := vecgraph.New()
	err = loaded.DeserializeReader(ctx, &tampered, vecgraph.BuildParams{Dim: 8, Metric: vecgraph.L2})
	assert.ErrorIs(t, err, vecgraph.ErrCorruptData)
	assert.NotErrorIs(t, err, vecgraph.ErrInvalidParameter)
	assert.Equal(t, 0, loaded.Size())
}

func TestPersist_Errors(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(25)
	idx := buildIndex(t, rng.UniformVectors(200, 8), smallParams(8, vecgraph.L2))

	dir := t.TempDir()
	path := filepath.Join(dir, "index.vgr")
	require.NoError(t, idx.Serialize(ctx, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("missing file", func(t *testing.T) {
		_, err := vecgraph.Load(ctx, filepath.Join(dir, "nope.vgr"), smallParams(8, vecgraph.L2))
		assert.ErrorIs(t, err, vecgraph.ErrIOFailure)
		assert.ErrorIs(t, err, os.ErrNotExist)

		var ioErr *vecgraph.ErrIO
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "deserialize", ioErr.Op)
		assert.Contains(t, ioErr.Path, "nope.vgr")
	})

	corrupt := map[string][]byte{
		"empty":        {},
		"short header": data[:40],
		"truncated":    data[:len(data)-9],
		"trailing":     append(bytes.Clone(data), 1, 2, 3),
		"payload flip": func() []byte {
			d := bytes.Clone(data)
			d[len(d)-5] ^= 0xFF
			return d
		}(),
		"header flip": func() []byte {
			d := bytes.Clone(data)
			d[9] ^= 0x01
			return d
		}(),
	}

	for name, content := range corrupt {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "bad.vgr")
			require.NoError(t, os.WriteFile(p, content, 0o600))

			fresh := vecgraph.New()
			err := fresh.Deserialize(ctx, p, smallParams(8, vecgraph.L2))
			assert.ErrorIs(t, err, vecgraph.ErrCorruptData)
			assert.NotErrorIs(t, err, vecgraph.ErrIOFailure)
			assert.Equal(t, 0, fresh.Size())

			err = vecgraph.New().DeserializeReader(ctx, bytes.NewReader(content), smallParams(8, vecgraph.L2))
			if name == "trailing" {
				assert.NoError(t, err, "stream readers leave trailing bytes unread")
			} else {
				assert.ErrorIs(t, err, vecgraph.ErrCorruptData)
			}
		})
	}

	t.Run("already built", func(t *testing.T) {
		err := idx.Deserialize(ctx, path, smallParams(8, vecgraph.L2))
		assert.ErrorIs(t, err, vecgraph.ErrAlreadyBuilt)
	})

	t.Run("invalid expected params", func(t *testing.T) {
		err := vecgraph.New().Deserialize(ctx, path, vecgraph.BuildParams{})
		assert.ErrorIs(t, err, vecgraph.ErrInvalidParameter)
	})

	t.Run("unwritable destination", func(t *testing.T) {
		err := idx.Serialize(ctx, filepath.Join(dir, "missing-dir", "index.vgr"))
		assert.ErrorIs(t, err, vecgraph.ErrIOFailure)
	})

	t.Run("failed save keeps previous file", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		limited := buildIndex(t, rng.UniformVectors(50, 8), smallParams(8, vecgraph.L2),
			vecgraph.WithResourceController(resource.NewController(resource.Config{IOLimitBytesPerSec: 1024})))

		err := limited.Serialize(canceled, path)
		assert.ErrorIs(t, err, context.Canceled)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, after)
	})
}

func TestPersist_Metrics(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(26)
	mc := &vecgraph.BasicMetricsCollector{}
	idx := buildIndex(t, rng.UniformVectors(100, 4), smallParams(4, vecgraph.L2), vecgraph.WithMetricsCollector(mc))

	path := filepath.Join(t.TempDir(), "index.vgr")
	require.NoError(t, idx.Serialize(ctx, path))

	info, err := os.Stat(path)
	require.NoError(t, err)

	_, err = vecgraph.Load(ctx, path, smallParams(4, vecgraph.L2), vecgraph.WithMetricsCollector(mc))
	require.NoError(t, err)

	st := mc.GetStats()
	assert.Equal(t, int64(1), st.SerializeCount)
	assert.Equal(t, info.Size(), st.SerializeBytes)
	assert.Equal(t, int64(1), st.DeserializeCount)
	assert.Equal(t, info.Size(), st.DeserializeBytes)
}
