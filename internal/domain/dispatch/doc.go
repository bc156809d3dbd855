// Package dispatch instruments event delivery so the pipeline records
// trace stages without changing its own code paths.
//
// Manager is an event emitter whose emissions record the emit stage and
// whose listeners for external sources record the ingress stage before
// they run. Observer does the same for a message transport's
// (subject, body) callbacks. Tracking is a side observer: it never
// alters an event, a listener's return value, or panics into the caller.
package dispatch
