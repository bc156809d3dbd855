package correlation

import (
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/shared/clock"
)

// Method records how an id was resolved.
type Method string

const (
	MethodExplicit  Method = "explicit"
	MethodHeuristic Method = "heuristic"
)

// PendingSource supplies the pending-trace snapshot for heuristic
// matching. *trace.Store satisfies it.
type PendingSource interface {
	Pending() []trace.Record
}

// Resolver applies explicit extraction first and the matcher only when
// no id is carried.
type Resolver struct {
	matcher *Matcher
	source  PendingSource
	clock   clock.Clock
}

// NewResolver creates a resolver. A nil matcher disables the heuristic
// fallback.
func NewResolver(matcher *Matcher, source PendingSource, clk clock.Clock) *Resolver {
	if clk == nil {
		clk = clock.Real()
	}
	return &Resolver{matcher: matcher, source: source, clock: clk}
}

// Resolve returns the correlation id for an event and how it was found.
func (r *Resolver) Resolve(event string, arg1, arg2 any) (string, Method, bool) {
	if cid, ok := Extract(arg1, arg2); ok {
		return cid, MethodExplicit, true
	}
	if r.matcher == nil || r.source == nil || !r.matcher.Trackable(event, arg1, arg2) {
		return "", "", false
	}
	if cid, ok := r.matcher.Match(event, arg1, arg2, r.source.Pending(), r.clock.Now()); ok {
		return cid, MethodHeuristic, true
	}
	return "", "", false
}

// Trackable reports whether the matcher considers event trackable. With
// no matcher every event is trackable.
func (r *Resolver) Trackable(event string, arg1, arg2 any) bool {
	if r.matcher == nil {
		return true
	}
	return r.matcher.Trackable(event, arg1, arg2)
}
