// Package vectorstore provides the dense, append-only vector storage used by
// the proximity graph.
//
// Vectors are stored contiguously in a single []float32 slice
// (Structure-of-Arrays layout), so vector id i lives at data[i*dim:(i+1)*dim].
// Ids are assigned densely in insertion order starting at 0.
//
// # Usage
//
//	store, _ := vectorstore.New(128, vectorstore.WithNorms())
//	id, _ := store.Append(ctx, vec)
//	v, _ := store.Get(id)
//
// # Concurrency
//
// Append requires external synchronization. Once the writer is done and the
// store has been published, concurrent readers are safe.
package vectorstore
