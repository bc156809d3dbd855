/*
Package monitoring provides Prometheus metrics for the tracer.

# Overview

Metrics live in their own registry so several tracers (and tests) can run
in one process. The tracer records trace lifecycle transitions, stage
hops, shared-state synchronization and export outcomes; the HTTP layer
records request counts and latency.

# Usage

	metrics := monitoring.NewMetrics(nil)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.TraceStarted()
	metrics.TraceCompleted(840, map[string]int64{"sent_to_received": 120})
	metrics.ObserveSync("save", "ok")
*/
package monitoring
