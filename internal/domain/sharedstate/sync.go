package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/resilience"
	"github.com/egsm/perftrace/internal/shared/clock"
	"github.com/egsm/perftrace/internal/shared/paths"
)

// Defaults
const (
	DefaultRetention = time.Hour
	DefaultInterval  = 5 * time.Second
	DefaultReloadRPS = 2
)

// Operations reported to the observer.
const (
	OpLoad  = "load"
	OpSave  = "save"
	OpEvict = "evict"
)

// Store is the part of the trace store the synchronizer drives.
type Store interface {
	Merge(records []trace.Record) int
	Recent(cutoff time.Time) []trace.Record
	Evict(cutoff time.Time) int
}

// Options configures a Synchronizer.
type Options struct {
	Path      string
	Retention time.Duration
	Interval  time.Duration
	// ReloadRPS limits miss-triggered reloads. Zero or less disables the limit.
	ReloadRPS float64
	Clock     clock.Clock
	Logger    *zap.Logger
	Breaker   *resilience.Breaker
	// Observe is told the outcome of every load, save and eviction.
	Observe func(op, status string)
}

// Synchronizer keeps a Store and the shared file in step.
type Synchronizer struct {
	path      string
	retention time.Duration
	interval  time.Duration
	store     Store
	clock     clock.Clock
	log       *zap.Logger
	breaker   *resilience.Breaker
	limiter   *rate.Limiter
	observe   func(op, status string)

	// fileMu serializes this process's file access; it does nothing
	// for other processes.
	fileMu sync.Mutex

	requests  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a synchronizer and starts its writer goroutine.
func New(store Store, opts Options) *Synchronizer {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observe == nil {
		opts.Observe = func(string, string) {}
	}
	limit := rate.Inf
	if opts.ReloadRPS > 0 {
		limit = rate.Limit(opts.ReloadRPS)
	}
	log := opts.Logger.Named("sharedstate").With(zap.String("path", opts.Path))
	if opts.Breaker == nil {
		opts.Breaker = resilience.New("shared-state", resilience.Settings{
			Clock: opts.Clock,
			OnStateChange: func(name string, from, to resilience.State) {
				log.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}

	s := &Synchronizer{
		path:      opts.Path,
		retention: opts.Retention,
		interval:  opts.Interval,
		store:     store,
		clock:     opts.Clock,
		log:       log,
		breaker:   opts.Breaker,
		limiter:   rate.NewLimiter(limit, 1),
		observe:   opts.Observe,
		requests:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writer()
	return s
}

// Path returns the shared file path.
func (s *Synchronizer) Path() string { return s.path }

// Breaker returns the breaker guarding file access.
func (s *Synchronizer) Breaker() *resilience.Breaker { return s.breaker }

// Load merges the traces on disk that are within retention into the
// store and returns how many local traces changed. A corrupt file is
// logged and treated as empty.
func (s *Synchronizer) Load() (int, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.loadLocked()
}

func (s *Synchronizer) loadLocked() (int, error) {
	records, err := s.read()
	if err != nil {
		s.observe(OpLoad, "error")
		return 0, err
	}

	cutoff := s.cutoff().UnixMilli()
	fresh := make([]trace.Record, 0, len(records))
	for _, rec := range records {
		if first := rec.Timestamps.First(); first != 0 && first >= cutoff {
			fresh = append(fresh, rec)
		}
	}
	merged := s.store.Merge(fresh)
	s.observe(OpLoad, "ok")

	if merged > 0 {
		s.log.Debug("merged shared traces", zap.Int("merged", merged), zap.Int("on_disk", len(records)))
	}
	return merged, nil
}

// read returns the decoded file through the breaker. Corruption is not a
// breaker failure; the next save repairs the file.
func (s *Synchronizer) read() (map[string]trace.Record, error) {
	var records map[string]trace.Record
	err := s.breaker.Do(func() error {
		var err error
		records, err = ReadFile(s.path)
		if errors.Is(err, ErrCorrupt) {
			s.log.Warn("ignoring corrupt shared state", zap.Error(err))
			records = map[string]trace.Record{}
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load shared state: %w", err)
	}
	return records, nil
}

// Reload is Load limited to ReloadRPS. The store calls it when a stage
// arrives for a trace it does not hold.
func (s *Synchronizer) Reload() {
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return
	}
	if _, err := s.Load(); err != nil {
		s.log.Warn("reload failed", zap.Error(err))
	}
}

// Save requests an asynchronous flush. Requests made while one is queued
// are coalesced. It never blocks.
func (s *Synchronizer) Save() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Flush synchronously performs load-merge-save: merge the file into the
// store, evict expired traces, then atomically replace the file with the
// store's snapshot.
func (s *Synchronizer) Flush() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if _, err := s.loadLocked(); err != nil {
		s.log.Debug("flush continuing without disk state", zap.Error(err))
	}
	cutoff := s.cutoff()
	s.evict(cutoff)

	data, err := Encode(s.store.Recent(cutoff))
	if err != nil {
		s.observe(OpSave, "error")
		return err
	}
	err = s.breaker.Do(func() error {
		return WriteFile(s.path, data, paths.FilePerm)
	})
	if err != nil {
		s.observe(OpSave, "error")
		return fmt.Errorf("save shared state: %w", err)
	}
	s.observe(OpSave, "ok")
	return nil
}

// Run loads and evicts every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Load(); err != nil {
				s.log.Warn("periodic load failed", zap.Error(err))
			}
			s.evict(s.cutoff())
		}
	}
}

// Close stops the writer goroutine after flushing any queued save.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Synchronizer) writer() {
	defer s.wg.Done()
	for {
		select {
		case <-s.requests:
			s.flushLogged()
		case <-s.done:
			select {
			case <-s.requests:
				s.flushLogged()
			default:
			}
			return
		}
	}
}

func (s *Synchronizer) flushLogged() {
	if err := s.Flush(); err != nil {
		s.log.Warn("save failed", zap.Error(err))
	}
}

func (s *Synchronizer) evict(cutoff time.Time) {
	if n := s.store.Evict(cutoff); n > 0 {
		s.observe(OpEvict, "ok")
		s.log.Debug("evicted expired traces", zap.Int("count", n))
	}
}

func (s *Synchronizer) cutoff() time.Time {
	return s.clock.Now().Add(-s.retention)
}
