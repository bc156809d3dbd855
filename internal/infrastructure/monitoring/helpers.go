package monitoring

import "time"

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// TraceStarted counts a begun trace.
func (m *Metrics) TraceStarted() {
	m.TracesStarted.Inc()
	m.mu.Lock()
	m.snapshot.Started++
	m.mu.Unlock()
}

// StageRecorded counts a recorded stage.
func (m *Metrics) StageRecorded(stage string) {
	m.StagesRecorded.WithLabelValues(stage).Inc()
}

// TraceCompleted counts a completed trace and observes its delays.
func (m *Metrics) TraceCompleted(endToEndMs int64, hops map[string]int64) {
	m.TracesCompleted.Inc()
	m.EndToEnd.Observe(float64(endToEndMs))
	m.observeHops(hops)
	m.mu.Lock()
	m.snapshot.Completed++
	m.mu.Unlock()
}

// TraceIncomplete counts an incomplete trace. Hops recorded before the
// trace stopped are still observed.
func (m *Metrics) TraceIncomplete(reason string, hops map[string]int64) {
	m.TracesIncomplete.WithLabelValues(reason).Inc()
	m.observeHops(hops)
	m.mu.Lock()
	m.snapshot.Incomplete++
	m.mu.Unlock()
}

// TraceEvicted counts an evicted trace.
func (m *Metrics) TraceEvicted() { m.TracesEvicted.Inc() }

// ObserveSync counts a shared-state operation.
func (m *Metrics) ObserveSync(op, status string) {
	m.SyncOps.WithLabelValues(op, status).Inc()
}

// ObserveExport counts an export run.
func (m *Metrics) ObserveExport(status string) {
	m.Exports.WithLabelValues(status).Inc()
}

// IncWSConnections increments stream subscribers
func (m *Metrics) IncWSConnections() { m.WSConnections.Inc() }

// DecWSConnections decrements stream subscribers
func (m *Metrics) DecWSConnections() { m.WSConnections.Dec() }

// RecordWSMessage counts an event written to a subscriber.
func (m *Metrics) RecordWSMessage() { m.WSMessages.Inc() }

func (m *Metrics) observeHops(hops map[string]int64) {
	for name, ms := range hops {
		m.HopDelay.WithLabelValues(name).Observe(float64(ms))
	}
}
