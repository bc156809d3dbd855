package trace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/shared/clock"
	"github.com/egsm/perftrace/internal/shared/id"
)

// DefaultTimeout is how long a trace may stay pending.
const DefaultTimeout = 30 * time.Second

// SharedState is the cross-process view the store consults on a miss and
// notifies after each mutation. Both calls must return promptly.
type SharedState interface {
	Reload()
	Save()
}

// StageData is the side data supplied with a stage recording.
type StageData struct {
	// Outputs are ids of events generated while handling the stage. A
	// processed stage with no outputs marks the trace incomplete.
	Outputs []string
	// Attributes are stored per stage; the first value for a key wins.
	Attributes map[string]any
}

// Options configures a Store.
type Options struct {
	// Component identifies this process instance in ComponentsSeen.
	Component string
	Timeout   time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger
	// NewID overrides correlation id generation.
	NewID func() (string, error)
	Sink  Sink
}

// Store owns the traces of one process instance and their timeout timers.
// It is safe for concurrent use; timer callbacks run on other goroutines.
type Store struct {
	component string
	timeout   time.Duration
	clock     clock.Clock
	log       *zap.Logger
	newID     func() (string, error)
	sink      Sink

	mu     sync.Mutex
	traces map[string]*Record
	timers map[string]*armed
	shared SharedState
}

// armed identifies one scheduled timeout so a stale callback can tell it
// has been superseded.
type armed struct {
	timer *clock.Timer
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = func() (string, error) {
			cid, err := id.NewCorrelationID()
			return cid.String(), err
		}
	}
	if opts.Sink == nil {
		opts.Sink = SinkFunc(func(Event) {})
	}

	return &Store{
		component: opts.Component,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		log:       opts.Logger.Named("store"),
		newID:     opts.NewID,
		sink:      opts.Sink,
		traces:    make(map[string]*Record),
		timers:    make(map[string]*armed),
	}
}

// AttachShared connects the cross-process synchronizer.
func (s *Store) AttachShared(shared SharedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared = shared
}

// Component returns the id this store records as its writer.
func (s *Store) Component() string { return s.component }

// Timeout returns the pending-trace timeout.
func (s *Store) Timeout() time.Duration { return s.timeout }

// Begin starts a pending trace with the sent stage stamped now and arms
// its timeout.
func (s *Store) Begin(entity, instance string, payload any) (string, error) {
	cid, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("failed to begin trace: %w", err)
	}
	now := s.clock.Now()

	s.mu.Lock()
	if _, exists := s.traces[cid]; exists {
		s.mu.Unlock()
		s.log.Error("correlation id collision",
			zap.String("correlation_id", cid),
			zap.String("entity_name", entity),
			zap.String("process_instance", instance))
		return "", fmt.Errorf("%w: %s", ErrCorrelationCollision, cid)
	}

	rec := &Record{
		CorrelationID:   cid,
		EntityName:      entity,
		ProcessInstance: instance,
		Status:          StatusPending,
		RelatedOutputs:  []string{},
		ComponentsSeen:  []string{},
		EventData:       payload,
	}
	rec.Timestamps.Set(StageSent, now.UnixMilli())
	rec.addComponent(s.component)
	s.traces[cid] = rec
	s.armLocked(cid, s.timeout)
	shared := s.shared
	s.mu.Unlock()

	s.log.Debug("trace begun",
		zap.String("correlation_id", cid),
		zap.String("entity_name", entity),
		zap.String("process_instance", instance))
	s.sink.Submit(Event{
		Kind:            EventBegun,
		CorrelationID:   cid,
		ProcessInstance: instance,
		Stage:           StageSent,
		Writer:          s.component,
		At:              now,
	})
	save(shared)
	return cid, nil
}

// RecordStage stamps stage on the trace unless it was already stamped and
// adds writer to ComponentsSeen. A trace that is not resident locally is
// looked up in shared state first.
func (s *Store) RecordStage(cid string, stage Stage, writer string, data StageData) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	if writer == "" {
		writer = s.component
	}
	s.reloadIfMissing(cid)
	now := s.clock.Now()

	s.mu.Lock()
	rec, err := s.mutableLocked(cid)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("stage not recorded",
			zap.String("correlation_id", cid),
			zap.String("stage", string(stage)),
			zap.Error(err))
		return err
	}

	rec.Timestamps.Set(stage, now.UnixMilli())
	rec.addComponent(writer)
	rec.addOutputs(data.Outputs...)
	rec.addStageData(stage, data.Attributes)

	events := []Event{{
		Kind:            EventStage,
		CorrelationID:   cid,
		ProcessInstance: rec.ProcessInstance,
		Stage:           stage,
		Writer:          writer,
		At:              now,
	}}
	if stage == StageProcessed && len(data.Outputs) == 0 {
		events = append(events, s.terminateLocked(rec, StatusIncomplete, ReasonNoDownstreamOutput, nil, now))
	}
	shared := s.shared
	s.mu.Unlock()

	if len(events) > 1 {
		s.log.Warn("trace incomplete",
			zap.String("correlation_id", cid),
			zap.String("reason", ReasonNoDownstreamOutput))
	}
	for _, ev := range events {
		s.sink.Submit(ev)
	}
	save(shared)
	return nil
}

// Complete transitions a pending trace to completed, stamping the
// detected stage if it has not fired.
func (s *Store) Complete(cid string, result any) error {
	s.reloadIfMissing(cid)
	now := s.clock.Now()

	s.mu.Lock()
	rec, err := s.mutableLocked(cid)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("trace not completed", zap.String("correlation_id", cid), zap.Error(err))
		return err
	}
	rec.Timestamps.Set(StageDetected, now.UnixMilli())
	rec.addComponent(s.component)
	ev := s.terminateLocked(rec, StatusCompleted, "", result, now)
	shared := s.shared
	s.mu.Unlock()

	fields := []zap.Field{zap.String("correlation_id", cid)}
	if ev.EndToEnd != nil {
		fields = append(fields, zap.Int64("end_to_end_ms", *ev.EndToEnd))
	}
	s.log.Info("trace completed", fields...)
	s.sink.Submit(ev)
	save(shared)
	return nil
}

// MarkIncomplete transitions a pending trace to incomplete.
func (s *Store) MarkIncomplete(cid, reason string) error {
	if reason == "" {
		reason = ReasonUnspecified
	}
	s.reloadIfMissing(cid)
	now := s.clock.Now()

	s.mu.Lock()
	rec, err := s.mutableLocked(cid)
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("trace not marked incomplete", zap.String("correlation_id", cid), zap.Error(err))
		return err
	}
	ev := s.terminateLocked(rec, StatusIncomplete, reason, nil, now)
	shared := s.shared
	s.mu.Unlock()

	s.log.Warn("trace incomplete", zap.String("correlation_id", cid), zap.String("reason", reason))
	s.sink.Submit(ev)
	save(shared)
	return nil
}

// expire is the timeout callback. Firing after a terminal transition, or
// after the trace was evicted, does nothing.
func (s *Store) expire(cid string, entry *armed) {
	now := s.clock.Now()

	s.mu.Lock()
	rec, ok := s.traces[cid]
	if !ok || rec.Status.Terminal() || s.timers[cid] != entry {
		s.mu.Unlock()
		return
	}
	ev := s.terminateLocked(rec, StatusIncomplete, ReasonTimeout, nil, now)
	shared := s.shared
	s.mu.Unlock()

	s.log.Warn("trace timed out", zap.String("correlation_id", cid), zap.Duration("timeout", s.timeout))
	s.sink.Submit(ev)
	save(shared)
}

// Get returns a copy of the trace.
func (s *Store) Get(cid string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.traces[cid]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Records returns copies of every trace, oldest first.
func (s *Store) Records() []Record {
	return s.collect(func(*Record) bool { return true })
}

// Pending returns copies of every pending trace, oldest first.
func (s *Store) Pending() []Record {
	return s.collect(func(r *Record) bool { return r.Status == StatusPending })
}

// Recent returns copies of traces first stamped at or after cutoff.
func (s *Store) Recent(cutoff time.Time) []Record {
	ms := cutoff.UnixMilli()
	return s.collect(func(r *Record) bool { return r.Timestamps.First() >= ms })
}

// Len returns the number of resident traces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

// Reset drops every trace and cancels every timer.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for cid, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, cid)
	}
	s.traces = make(map[string]*Record)
	s.log.Info("store reset")
}

// Evict drops traces first stamped before cutoff, regardless of status,
// and returns how many were dropped.
func (s *Store) Evict(cutoff time.Time) int {
	ms := cutoff.UnixMilli()
	now := s.clock.Now()

	s.mu.Lock()
	var events []Event
	for cid, rec := range s.traces {
		if rec.Timestamps.First() >= ms {
			continue
		}
		s.stopTimerLocked(cid)
		delete(s.traces, cid)
		events = append(events, Event{
			Kind:            EventEvicted,
			CorrelationID:   cid,
			ProcessInstance: rec.ProcessInstance,
			At:              now,
		})
	}
	s.mu.Unlock()

	if len(events) > 0 {
		s.log.Debug("evicted traces", zap.Int("count", len(events)))
	}
	for _, ev := range events {
		s.sink.Submit(ev)
	}
	return len(events)
}

// Merge folds records observed by other process instances into the store
// and returns how many local traces changed. The more advanced status
// wins and a terminal local trace is never modified. Stage timestamps
// already set locally take precedence.
func (s *Store) Merge(records []Record) int {
	now := s.clock.Now()
	changed := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		remote := records[i].Clone()
		if remote.CorrelationID == "" || !remote.Status.Valid() {
			continue
		}
		remote.normalize()

		local, ok := s.traces[remote.CorrelationID]
		if !ok {
			rec := remote
			s.traces[rec.CorrelationID] = &rec
			if rec.Status == StatusPending {
				s.armLocked(rec.CorrelationID, s.remaining(&rec, now))
			}
			changed++
			continue
		}
		if local.Status.Terminal() {
			continue
		}

		dirty := local.Absorb(remote)
		if local.Status.Terminal() {
			s.stopTimerLocked(local.CorrelationID)
		}
		if dirty {
			changed++
		}
	}
	return changed
}

func (s *Store) remaining(rec *Record, now time.Time) time.Duration {
	first := rec.Timestamps.First()
	if first == 0 {
		return s.timeout
	}
	elapsed := now.Sub(time.UnixMilli(first))
	if elapsed < 0 {
		elapsed = 0
	}
	return s.timeout - elapsed
}

func (s *Store) collect(keep func(*Record) bool) []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.traces))
	for _, rec := range s.traces {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Timestamps.First(), out[j].Timestamps.First()
		if a != b {
			return a < b
		}
		return out[i].CorrelationID < out[j].CorrelationID
	})
	return out
}

func (s *Store) reloadIfMissing(cid string) {
	s.mu.Lock()
	_, ok := s.traces[cid]
	shared := s.shared
	s.mu.Unlock()

	if !ok && shared != nil {
		shared.Reload()
	}
}

func (s *Store) mutableLocked(cid string) (*Record, error) {
	rec, ok := s.traces[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, cid)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTraceTerminal, cid, rec.Status)
	}
	return rec, nil
}

func (s *Store) terminateLocked(rec *Record, status Status, reason string, result any, now time.Time) Event {
	rec.Status = status
	rec.IncompleteReason = reason
	rec.Result = result
	s.stopTimerLocked(rec.CorrelationID)

	kind := EventCompleted
	if status == StatusIncomplete {
		kind = EventIncomplete
	}
	ev := Event{
		Kind:            kind,
		CorrelationID:   rec.CorrelationID,
		ProcessInstance: rec.ProcessInstance,
		Reason:          reason,
		Writer:          s.component,
		At:              now,
		Hops:            rec.Hops(),
	}
	if e2e, ok := rec.EndToEnd(); ok {
		ev.EndToEnd = &e2e
	}
	return ev
}

func (s *Store) armLocked(cid string, d time.Duration) {
	s.stopTimerLocked(cid)
	entry := &armed{}
	entry.timer = s.clock.AfterFunc(d, func() { s.expire(cid, entry) })
	s.timers[cid] = entry
}

func (s *Store) stopTimerLocked(cid string) {
	if entry, ok := s.timers[cid]; ok {
		entry.timer.Stop()
		delete(s.timers, cid)
	}
}

func save(shared SharedState) {
	if shared != nil {
		shared.Save()
	}
}
