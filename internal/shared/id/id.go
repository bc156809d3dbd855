// Package id generates correlation identifiers.
//
// A correlation id is a ULID with a "trace_" prefix:
//   - Time-ordered: the first 48 bits are the creation millisecond
//   - Random suffix: 80 bits from a cryptographically secure source
//   - Debuggable: the prefix makes ids recognisable in logs and files
//
// Two ids from the same generator never collide; ids from different
// processes collide only with negligible probability.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CorrelationID identifies one unit of work across components.
type CorrelationID string

// CorrelationPrefix is prepended to every generated correlation id.
const CorrelationPrefix = "trace"

func (id CorrelationID) String() string { return string(id) }

// Generator produces ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator using monotonic entropy drawn from
// crypto/rand, so ids created within one millisecond still sort and
// never repeat.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0), time.Now)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy
// source and time function. Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: entropy, now: now}
}

// Generate creates a new ULID.
func (g *Generator) Generate() (ulid.ULID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.New(ulid.Timestamp(g.now()), g.entropy)
}

// NewCorrelationID creates a prefixed correlation id.
func (g *Generator) NewCorrelationID() (CorrelationID, error) {
	u, err := g.Generate()
	if err != nil {
		return "", fmt.Errorf("generate correlation id: %w", err)
	}
	return CorrelationID(fmt.Sprintf("%s_%s", CorrelationPrefix, u.String())), nil
}

// NewCorrelationID creates a correlation id from the default generator.
func NewCorrelationID() (CorrelationID, error) {
	return Default().NewCorrelationID()
}

// IsValid reports whether s is a well-formed correlation id.
func IsValid(s string) bool {
	rest, ok := strings.CutPrefix(s, CorrelationPrefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// Timestamp extracts the creation time embedded in a correlation id.
func Timestamp(s string) (time.Time, error) {
	rest, ok := strings.CutPrefix(s, CorrelationPrefix+"_")
	if !ok {
		return time.Time{}, fmt.Errorf("correlation id %q: missing %q prefix", s, CorrelationPrefix)
	}
	parsed, err := ulid.ParseStrict(rest)
	if err != nil {
		return time.Time{}, fmt.Errorf("correlation id %q: %w", s, err)
	}
	return ulid.Time(parsed.Time()), nil
}
