// Command perftrace runs the tracer for one pipeline component.
//
// It serves the HTTP API over the component's trace store, keeps the
// store in step with the shared trace file, and on SIGINT or SIGTERM
// reloads shared state, flushes it and writes an export set before
// exiting.
//
// Configuration:
//   - Environment variables (COMPONENT_ID, PERF_SHARED_DIR, ...)
//   - Optional YAML or TOML file (--config or PERF_CONFIG_FILE)
//   - CLI flags (override everything else)
//
// Example:
//
//	COMPONENT_ID=engine-1 perftrace --port 8091
package main
