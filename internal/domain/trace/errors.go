package trace

import "errors"

var (
	// ErrTraceNotFound is returned for operations on an unknown correlation
	// id. Cross-process visibility is eventual, so callers treat it as a
	// no-op rather than a fault.
	ErrTraceNotFound = errors.New("trace not found")

	// ErrTraceTerminal is returned when a completed or incomplete trace is
	// mutated. The trace is left unchanged.
	ErrTraceTerminal = errors.New("trace already terminal")

	// ErrCorrelationCollision means a freshly generated id is already in
	// use. The existing trace is left untouched.
	ErrCorrelationCollision = errors.New("correlation id collision")

	ErrUnknownStage = errors.New("unknown stage")
)
