package dispatch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/trace"
)

// Listener handles an emitted event.
type Listener func(arg1, arg2 any) any

// External sources and event names whose delivery counts as ingress.
var (
	ExternalSources = []string{"worker", "queue", "mqtt", "message-handler"}
	ExternalEvents  = []string{"message_received", "process_event", "external_event"}
)

type registration struct {
	source string
	event  string
	fn     Listener
}

// Manager is an instrumented event emitter owned by one engine.
type Manager struct {
	id       string
	observer *Observer
	log      *zap.Logger

	mu        sync.RWMutex
	listeners map[string][]registration
}

// NewManager creates a manager for the engine id. A nil observer turns
// instrumentation off.
func NewManager(id string, observer *Observer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		id:        id,
		observer:  observer,
		log:       logger.Named("events").With(zap.String("engine", id)),
		listeners: make(map[string][]registration),
	}
}

// ID returns the engine id.
func (m *Manager) ID() string { return m.id }

// On registers fn for event. Listeners registered for an external
// source or event record the ingress stage before fn runs.
func (m *Manager) On(source, event string, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], registration{source: source, event: event, fn: fn})
}

// Emit records the emit stage for trackable events, then calls every
// listener for event in registration order and returns their results.
func (m *Manager) Emit(event string, arg1, arg2 any) []any {
	if m.observer != nil {
		m.observer.track(m.observer.emit, event, arg1, arg2, m.emitData(event, arg1), true)
	}

	m.mu.RLock()
	regs := append([]registration(nil), m.listeners[event]...)
	m.mu.RUnlock()

	results := make([]any, 0, len(regs))
	for _, reg := range regs {
		if m.observer != nil && isExternal(reg.source, reg.event, arg1) {
			m.observer.track(m.observer.ingress, event, arg1, arg2, m.ingressData(reg), false)
		}
		results = append(results, reg.fn(arg1, arg2))
	}
	return results
}

// Listeners returns how many listeners are registered for event.
func (m *Manager) Listeners(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[event])
}

// Reset removes every listener.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = make(map[string][]registration)
	m.log.Debug("listeners reset")
}

func (m *Manager) emitData(event string, arg1 any) trace.StageData {
	return trace.StageData{
		Outputs:    outputIDs(event, arg1),
		Attributes: map[string]any{"engine": m.id},
	}
}

func (m *Manager) ingressData(reg registration) trace.StageData {
	return trace.StageData{
		Attributes: map[string]any{"engine": m.id, "source": reg.source},
	}
}

func isExternal(source, event string, arg1 any) bool {
	for _, s := range ExternalSources {
		if s == source {
			return true
		}
	}
	for _, e := range ExternalEvents {
		if e == event {
			return true
		}
	}
	if obj, ok := arg1.(map[string]any); ok {
		if ext, ok := obj["external"].(bool); ok && ext {
			return true
		}
	}
	return false
}
