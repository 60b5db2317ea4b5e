// Package testutil provides testing utilities for vecgraph.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	data := rng.UniformVectors(10000, 128) // uniform [0, 1)
//	unit := rng.UnitVectors(100, 128)      // on the unit hypersphere
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.BruteForceSearch(distance.L2, data, query, k)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
