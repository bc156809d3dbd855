package correlation

import (
	"time"

	"github.com/egsm/perftrace/internal/domain/trace"
)

// DefaultMatchWindow bounds how long after its sent stage a pending trace
// can still be matched heuristically.
const DefaultMatchWindow = 5 * time.Second

var (
	entityKeys   = []string{"entityName", "entity_name", "entity"}
	instanceKeys = []string{"processInstance", "process_instance", "instance"}
	eventKeys    = []string{"eventType", "event_type", "type"}
)

// Matcher guesses the correlation id of events from producers that do
// not propagate one. It only considers trackable events.
type Matcher struct {
	trackable map[string]struct{}
	window    time.Duration
}

// NewMatcher creates a matcher for the given event names.
func NewMatcher(trackable []string, window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	set := make(map[string]struct{}, len(trackable))
	for _, name := range trackable {
		set[name] = struct{}{}
	}
	return &Matcher{trackable: set, window: window}
}

// Window returns the match window.
func (m *Matcher) Window() time.Duration { return m.window }

// Trackable reports whether event, or the event type named inside either
// payload, is in the trackable set.
func (m *Matcher) Trackable(event string, arg1, arg2 any) bool {
	if _, ok := m.trackable[event]; ok {
		return true
	}
	for _, arg := range []any{arg1, arg2} {
		obj, ok := fields(arg)
		if !ok {
			continue
		}
		if name, ok := lookup(obj, eventKeys); ok {
			if _, ok := m.trackable[name]; ok {
				return true
			}
		}
	}
	return false
}

// Subject extracts the entity name and process instance an event refers
// to, looking at the top level and the nested event object of each
// argument in turn.
func Subject(arg1, arg2 any) (entity, instance string, ok bool) {
	for _, arg := range []any{arg1, arg2} {
		obj, found := fields(arg)
		if !found {
			continue
		}
		for _, o := range []map[string]any{obj, nestedObject(obj)} {
			if o == nil {
				continue
			}
			e, eok := lookup(o, entityKeys)
			i, iok := lookup(o, instanceKeys)
			if eok && iok {
				return e, i, true
			}
		}
	}
	return "", "", false
}

func nestedObject(obj map[string]any) map[string]any {
	inner, _ := asObject(obj[NestedKey])
	return inner
}

// Match returns the id of the most recently sent pending candidate whose
// entity and process instance equal those named by the event, if it was
// sent within the window before now.
func (m *Matcher) Match(event string, arg1, arg2 any, candidates []trace.Record, now time.Time) (string, bool) {
	if !m.Trackable(event, arg1, arg2) {
		return "", false
	}
	entity, instance, ok := Subject(arg1, arg2)
	if !ok {
		return "", false
	}

	nowMs := now.UnixMilli()
	windowMs := m.window.Milliseconds()
	var best *trace.Record
	for i := range candidates {
		c := &candidates[i]
		if c.Status != trace.StatusPending || c.EntityName != entity || c.ProcessInstance != instance {
			continue
		}
		sent := c.Timestamps.Get(trace.StageSent)
		if sent == 0 || nowMs-sent > windowMs {
			continue
		}
		if best == nil || sent > best.Timestamps.Get(trace.StageSent) ||
			(sent == best.Timestamps.Get(trace.StageSent) && c.CorrelationID > best.CorrelationID) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	return best.CorrelationID, true
}
