// Package searcher provides pooled scratch state for graph traversals.
//
// The Searcher struct owns all reusable resources needed for one query:
//   - Priority queues (candidates, results)
//   - Visited set (bitset with dirty list)
//   - Result and id buffers
//
// A Searcher is owned by exactly one goroutine between Get and Put.
package searcher
