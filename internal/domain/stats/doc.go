// Package stats aggregates latency statistics from trace records.
//
// Percentiles use the nearest-rank rule on the ascending sample:
// p_k is the element at index floor(n*k), zero-indexed and clamped to
// the last element; the median is the element at floor(n/2). An empty
// sample has no distribution at all rather than a zero one.
//
// Aggregation only reads records; callers pass in a snapshot.
package stats
