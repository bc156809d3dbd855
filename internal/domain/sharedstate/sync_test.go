package sharedstate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/resilience"
	"github.com/egsm/perftrace/internal/shared/clock"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type ops struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *ops) observe(op, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[op+":"+status]++
}

func (o *ops) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

// component is one simulated process instance sharing the file.
type component struct {
	store *trace.Store
	sync  *Synchronizer
	ops   *ops
}

func newComponent(t *testing.T, name, path string, clk clock.Clock) *component {
	t.Helper()
	o := &ops{}
	store := trace.NewStore(trace.Options{Component: name, Clock: clk, Timeout: 30 * time.Second})
	s := New(store, Options{Path: path, Clock: clk, Observe: o.observe})
	store.AttachShared(s)
	t.Cleanup(s.Close)
	return &component{store: store, sync: s, ops: o}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	c := newComponent(t, "a", filepath.Join(t.TempDir(), "traces.json"), clock.Fake(epoch))

	n, err := c.sync.Load()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, c.ops.get("load:ok"))
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	store := trace.NewStore(trace.Options{Clock: clock.Fake(epoch)})
	s := New(store, Options{Path: path, Clock: clock.Fake(epoch), Logger: zap.New(core)})
	defer s.Close()

	n, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, logs.FilterMessage("ignoring corrupt shared state").Len())

	_, err = store.Begin("e", "p", nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush(), "save replaces a corrupt file")
	records, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCrossProcessLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	fake := clock.Fake(epoch)
	emulator := newComponent(t, "emulator", path, fake)
	worker := newComponent(t, "worker", path, fake)

	cid, err := emulator.store.Begin("truck-1", "caseA", nil)
	require.NoError(t, err)
	require.NoError(t, emulator.sync.Flush())

	fake.Advance(200 * time.Millisecond)
	require.NoError(t, worker.store.RecordStage(cid, trace.StageReceived, "worker", trace.StageData{}),
		"a miss reloads from the shared file")
	require.NoError(t, worker.store.Complete(cid, nil))
	require.NoError(t, worker.sync.Flush())

	_, err = emulator.sync.Load()
	require.NoError(t, err)

	rec, ok := emulator.store.Get(cid)
	require.True(t, ok)
	assert.Equal(t, trace.StatusCompleted, rec.Status, "advanced status wins")
	assert.Equal(t, []string{"emulator", "worker"}, rec.ComponentsSeen)
	assert.Equal(t, epoch.UnixMilli()+200, rec.Timestamps.Get(trace.StageReceived))
}

func TestFlushNeverRegressesOtherWritersTerminalState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	fake := clock.Fake(epoch)
	a := newComponent(t, "a", path, fake)
	b := newComponent(t, "b", path, fake)

	cid, _ := a.store.Begin("e", "p", nil)
	require.NoError(t, a.sync.Flush())
	_, err := b.sync.Load()
	require.NoError(t, err)

	require.NoError(t, b.store.MarkIncomplete(cid, "operator"))
	require.NoError(t, b.sync.Flush())
	require.NoError(t, a.sync.Flush(), "a still holds the trace as pending")

	records, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, trace.StatusIncomplete, records[cid].Status)
	assert.Equal(t, "operator", records[cid].IncompleteReason)
}

func TestRetentionOnLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	old := trace.Record{CorrelationID: "trace_old", Status: trace.StatusCompleted}
	old.Timestamps.Set(trace.StageSent, epoch.Add(-2*time.Hour).UnixMilli())
	fresh := trace.Record{CorrelationID: "trace_fresh", Status: trace.StatusCompleted}
	fresh.Timestamps.Set(trace.StageSent, epoch.Add(-time.Minute).UnixMilli())

	data, err := Encode([]trace.Record{old, fresh})
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, data, 0o644))

	c := newComponent(t, "a", path, clock.Fake(epoch))
	n, err := c.sync.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := c.store.Get("trace_old")
	assert.False(t, ok)

	require.NoError(t, c.sync.Flush())
	records, err := ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, records, "trace_fresh")
	assert.NotContains(t, records, "trace_old")
}

func TestFlushEvictsFromStore(t *testing.T) {
	fake := clock.Fake(epoch)
	c := newComponent(t, "a", filepath.Join(t.TempDir(), "traces.json"), fake)
	cid, _ := c.store.Begin("e", "p", nil)

	fake.Advance(2 * time.Hour)
	require.NoError(t, c.sync.Flush())

	_, ok := c.store.Get(cid)
	assert.False(t, ok)
	assert.Equal(t, 1, c.ops.get("evict:ok"))
}

func TestSaveIsAsynchronousAndCoalesced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.json")
	c := newComponent(t, "a", path, clock.Real())

	for i := 0; i < 20; i++ {
		_, err := c.store.Begin("e", "p", nil)
		require.NoError(t, err)
	}
	c.sync.Close()

	assert.GreaterOrEqual(t, c.ops.get("save:ok"), 1)

	records, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestReloadIsRateLimited(t *testing.T) {
	fake := clock.Fake(epoch)
	o := &ops{}
	store := trace.NewStore(trace.Options{Clock: fake})
	s := New(store, Options{
		Path:      filepath.Join(t.TempDir(), "traces.json"),
		Clock:     fake,
		ReloadRPS: 1,
		Observe:   o.observe,
	})
	defer s.Close()

	s.Reload()
	s.Reload()
	assert.Equal(t, 1, o.get("load:ok"))

	fake.Advance(time.Second)
	s.Reload()
	assert.Equal(t, 2, o.get("load:ok"))
}

func TestOpenBreakerSkipsIO(t *testing.T) {
	fake := clock.Fake(epoch)
	dir := t.TempDir()
	blocked := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))

	breaker := resilience.New("test", resilience.Settings{Clock: fake, Cooldown: time.Minute})
	o := &ops{}
	store := trace.NewStore(trace.Options{Clock: fake})
	s := New(store, Options{Path: filepath.Join(blocked, "traces.json"), Clock: fake, Breaker: breaker, Observe: o.observe})
	defer s.Close()

	for i := 0; i < 3; i++ {
		_, err := s.Load()
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, breaker.State())
	assert.Same(t, breaker, s.Breaker())

	_, err := s.Load()
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, s.Flush(), resilience.ErrCircuitOpen)
}

func TestRunLoadsPeriodically(t *testing.T) {
	fake := clock.Fake(epoch)
	path := filepath.Join(t.TempDir(), "traces.json")
	c := newComponent(t, "a", path, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.sync.Run(ctx) }()

	remote := trace.Record{CorrelationID: "trace_remote", Status: trace.StatusPending}
	remote.Timestamps.Set(trace.StageSent, epoch.UnixMilli())
	data, err := Encode([]trace.Record{remote})
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, data, 0o644))

	assert.Eventually(t, func() bool {
		fake.Advance(DefaultInterval)
		_, ok := c.store.Get("trace_remote")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWriteFileLeavesNoTemporaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traces.json")

	require.NoError(t, WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, WriteFile(path, []byte(`{"a":1}`), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestDecode(t *testing.T) {
	records, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = Decode([]byte(`{"trace_k":{"status":"pending","stage_timestamps":{"sent":5}}}`))
	require.NoError(t, err)
	assert.Equal(t, "trace_k", records["trace_k"].CorrelationID, "id filled from key")
	assert.Equal(t, int64(5), records["trace_k"].Timestamps.Get(trace.StageSent))

	_, err = Decode([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrCorrupt)
}
