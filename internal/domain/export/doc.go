// Package export writes trace snapshots for offline analysis.
//
// One export produces three files in the component's directory, all
// sharing a timestamp and the component id so simultaneous exporters
// never collide:
//
//	<prefix>-<component>-<ts>.json          raw traces plus statistics
//	<prefix>-summary-<component>-<ts>.csv   counts, distributions, per-process rows
//	<prefix>-traces-<component>-<ts>.csv    one row per trace
//
// Optionally the JSON is also gzip-archived, pushed to a collector over
// HTTP, and older exports beyond a retention count are pruned. Exporting
// never mutates the trace store.
package export
