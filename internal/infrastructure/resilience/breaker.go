package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/egsm/perftrace/internal/shared/clock"
)

// ErrCircuitOpen is returned without running the call while the breaker
// is open, or while its single half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Defaults
const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
)

// Settings configures a Breaker.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	Clock         clock.Clock
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State               State
	ConsecutiveFailures int
	Successes           uint64
	Failures            uint64
	Rejected            uint64
	OpenedAt            time.Time
}

// Breaker stops calls to a failing resource for a cooldown, then lets one
// probe through to decide whether to close again.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	probing  bool
	openedAt time.Time
	stats    Stats
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = DefaultThreshold
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultCooldown
	}
	if settings.Clock == nil {
		settings.Clock = clock.Real()
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the breaker name used in state-change callbacks.
func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	state, changed := b.refresh()
	b.mu.Unlock()
	b.notify(changed)
	return state
}

// Stats returns counters since the breaker was created.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	_, changed := b.refresh()
	s := b.stats
	s.State = b.state
	s.OpenedAt = b.openedAt
	b.mu.Unlock()
	b.notify(changed)
	return s
}

// Do runs fn unless the breaker rejects the call. A panic in fn counts as
// a failure and is re-raised.
func (b *Breaker) Do(fn func() error) (err error) {
	if err := b.acquire(); err != nil {
		return err
	}

	ok := false
	defer func() {
		b.release(ok)
	}()

	err = fn()
	ok = err == nil
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	state, changed := b.refresh()
	var err error
	switch {
	case state == StateOpen:
		err = ErrCircuitOpen
	case state == StateHalfOpen && b.probing:
		err = ErrCircuitOpen
	case state == StateHalfOpen:
		b.probing = true
	}
	if err != nil {
		b.stats.Rejected++
	}
	b.mu.Unlock()
	b.notify(changed)
	return err
}

func (b *Breaker) release(ok bool) {
	b.mu.Lock()
	var changed []transition
	if ok {
		b.stats.Successes++
		b.stats.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			changed = b.move(StateClosed)
		}
	} else {
		b.stats.Failures++
		b.stats.ConsecutiveFailures++
		if b.state == StateHalfOpen || b.stats.ConsecutiveFailures >= b.settings.Threshold {
			changed = b.move(StateOpen)
		}
	}
	b.probing = false
	b.mu.Unlock()
	b.notify(changed)
}

type transition struct{ from, to State }

// refresh applies an elapsed cooldown. Callers hold mu.
func (b *Breaker) refresh() (State, []transition) {
	if b.state == StateOpen && !b.settings.Clock.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return StateHalfOpen, b.move(StateHalfOpen)
	}
	return b.state, nil
}

func (b *Breaker) move(to State) []transition {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.openedAt = b.settings.Clock.Now()
	}
	return []transition{{from, to}}
}

func (b *Breaker) notify(changed []transition) {
	if b.settings.OnStateChange == nil {
		return
	}
	for _, t := range changed {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
