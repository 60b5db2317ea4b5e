// Package vecgraph provides an embeddable approximate nearest neighbor index
// over float32 vectors, built on a multi-layer proximity graph.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx := vecgraph.New()
//	err := idx.Build(ctx, vectors, vecgraph.BuildParams{
//	    Dim:            128,
//	    Metric:         vecgraph.L2,
//	    M:              16,
//	    EfConstruction: 128,
//	})
//
//	res, err := idx.Search(ctx, queries, vecgraph.SearchParams{K: 5, EfSearch: 64}, nil)
//	for i := range res.IDs {
//	    fmt.Println(res.IDs[i], res.Distances[i])
//	}
//
// # Lifecycle
//
// An Index is created empty and becomes ready exactly once, through Build or
// one of the load methods (Deserialize, DeserializeReader, DeserializeFrom).
// A ready index is read-only and safe for concurrent use. Building twice
// returns ErrAlreadyBuilt; querying an empty index returns ErrNotBuilt.
//
// # Scores
//
// Lower scores are better for every metric:
//
//	L2      squared euclidean distance
//	IP      negated inner product
//	COSINE  1 - cosine similarity
//
// RangeSearch returns hits whose score is at most the radius.
//
// # Filtering
//
// Search and RangeSearch accept a Filter. Rejected ids are still traversed
// but never returned. BitmapFilter (roaring) and BitsetView (knowhere
// convention, a set bit excludes the id) expose their cardinality, which lets
// the engine score very selective filters directly.
//
//	odd := vecgraph.FilterFunc(func(id uint64) bool { return id%2 == 1 })
//	res, err := idx.Search(ctx, queries, params, odd)
//
// # Persistence
//
// Serialize writes a single self-describing file; Deserialize validates it
// and checks the dimension and metric against the expected parameters:
//
//	err := idx.Serialize(ctx, "index.vgr")
//	idx2, err := vecgraph.Load(ctx, "index.vgr", vecgraph.BuildParams{Dim: 128, Metric: vecgraph.L2})
//
// Indexes can also be stored in any blobstore.BlobStore (local directory,
// memory, S3, MinIO or SQLite) through SerializeTo and LoadFrom.
//
// # Errors
//
// Failures are reported with the sentinels and typed errors in errors.go and
// can be matched with errors.Is and errors.As.
package vecgraph
