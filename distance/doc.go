// Package distance provides the scoring kernels and the metric set used by
// the proximity graph.
//
// Every metric is expressed as a score where lower means more similar:
//
//   - L2: squared Euclidean distance
//   - IP: negated inner product
//   - COSINE: one minus cosine similarity
//
// # Usage
//
//	m, _ := distance.ParseMetric("IP")
//	score := m.Score(a, b, distance.Norm(a), distance.Norm(b))
package distance
