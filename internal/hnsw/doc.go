// Package hnsw implements the multi-layer proximity graph.
//
// The graph is built incrementally: every vector draws a random top level,
// greedily descends from the entry point through the upper layers and is
// linked on each of its layers to a diverse set of close neighbors. Reverse
// links are added and pruned with the same diversity rule. A final repair pass
// guarantees that every node is reachable from the entry point on layer 0.
//
// # Parameters
//
//   - M: Max connections per node on upper layers (layer 0 allows 2*M)
//   - EfConstruction: Beam width used while linking
//   - Alpha: Diversity factor for neighbor pruning (1.0 = strict)
//   - EfSearch: Beam width used at query time
//
// # Concurrency
//
// Building is single-writer. A built graph is immutable and safe for
// concurrent searches as long as each goroutine uses its own searcher.
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
