/*
Package resilience guards the tracer's shared-state I/O with a circuit
breaker.

After Threshold consecutive failures the breaker opens and every call is
rejected with ErrCircuitOpen until Cooldown has passed. Then one probe is
let through: success closes the breaker, failure reopens it for another
cooldown.

	Closed --[Threshold failures]--> Open --[Cooldown]--> Half-Open --[probe ok]--> Closed
	                                  ^                        |
	                                  +-----[probe failed]-----+

Tracing observes the pipeline, so callers log ErrCircuitOpen and carry on.
*/
package resilience
