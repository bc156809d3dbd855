// Package sharedstate exchanges traces between process instances through
// one JSON file in a shared directory.
//
// The file is an object keyed by correlation id. Every access is
// load-merge-save: a writer first merges what is on disk into its store,
// evicts traces past retention, then atomically replaces the whole file
// with its own snapshot. Two writers saving at nearly the same moment
// can still lose each other's latest stage stamps; the tracer accepts
// that as best-effort, last-writer-wins. Merging always keeps the more
// advanced status, so a completed trace never reads back as pending.
package sharedstate
