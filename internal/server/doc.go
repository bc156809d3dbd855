// Package server wires the tracer together.
//
// This package orchestrates all components:
//   - Trace store with timeout supervision
//   - Shared-state synchronizer over the resolved shared directory
//   - Exporter, lifecycle bus and Prometheus metrics
//   - Instrumented event manager and transport observer
//   - HTTP routing with Gin (CORS, rate limiting, recovery)
//
// Server Lifecycle:
//  1. Resolve the shared directory, falling back to a local one
//  2. Build the store, synchronizer, exporter and bus
//  3. Load shared state
//  4. Serve HTTP and run the periodic sync loop until the context ends
//  5. Cleanup: reload, flush and export, then reset the store
//  6. Close background goroutines and sync the logger
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
