// Package trace models one correlation's lifecycle and the per-process
// store that owns those lifecycles.
//
// A trace begins pending with its sent stage stamped, collects stage
// timestamps from any number of writers, and ends exactly once as
// completed or incomplete:
//
//	pending --Complete--> completed
//	pending --MarkIncomplete / timeout / processed without outputs--> incomplete
//
// Terminal traces are immutable. Records are plain data; the Store keeps
// the timeout timers separately so records serialize as-is for the
// shared-state file.
package trace
