package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/shared/clock"
	"github.com/egsm/perftrace/internal/shared/paths"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleStore(t *testing.T, fake *clock.FakeClock) *trace.Store {
	t.Helper()
	store := trace.NewStore(trace.Options{Component: "engine-1", Clock: fake})

	done, err := store.Begin("truck-1", "caseA", nil)
	require.NoError(t, err)
	fake.Advance(200 * time.Millisecond)
	require.NoError(t, store.RecordStage(done, trace.StageReceived, "worker", trace.StageData{}))
	fake.Advance(300 * time.Millisecond)
	require.NoError(t, store.RecordStage(done, trace.StageProcessed, "engine-1", trace.StageData{Outputs: []string{"evt-1"}}))
	fake.Advance(300 * time.Millisecond)
	require.NoError(t, store.Complete(done, nil))

	dropped, err := store.Begin("truck-2", "caseB", nil)
	require.NoError(t, err)
	fake.Advance(100 * time.Millisecond)
	require.NoError(t, store.RecordStage(dropped, trace.StageProcessed, "engine-1", trace.StageData{}))
	return store
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportWritesAllThreeFiles(t *testing.T) {
	fake := clock.Fake(epoch)
	store := sampleStore(t, fake)
	before := store.Records()

	dir := t.TempDir()
	var observed []string
	exp := New(store, Options{
		Layout:  paths.Layout{Dir: dir, Component: "engine-1"},
		Clock:   fake,
		Observe: func(status string) { observed = append(observed, status) },
	})

	out, err := exp.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "perf-data-engine-1-2024-03-01T12-00-00-900Z.json"), out.Snapshot)
	assert.Equal(t, filepath.Join(dir, "perf-data-summary-engine-1-2024-03-01T12-00-00-900Z.csv"), out.Summary)
	assert.Equal(t, filepath.Join(dir, "perf-data-traces-engine-1-2024-03-01T12-00-00-900Z.csv"), out.Detail)
	assert.Empty(t, out.Archive)
	assert.False(t, out.Pushed)
	assert.Equal(t, []string{"ok"}, observed)
	assert.Equal(t, before, store.Records(), "export is read-only")

	data, err := os.ReadFile(out.Snapshot)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, sonic.Unmarshal(data, &snap))
	assert.Equal(t, "engine-1", snap.Component)
	assert.NotEmpty(t, snap.ExportID)
	assert.Len(t, snap.Traces, 2)
	assert.Equal(t, 1, snap.Statistics.Summary.Completed)
	assert.Equal(t, 1, snap.Statistics.IncompleteReasons[trace.ReasonNoDownstreamOutput])

	summary := readCSV(t, out.Summary)
	assert.Equal(t, []string{"Metric", "Value"}, summary[0])
	assert.Equal(t, []string{"Total Traces", "2"}, summary[1])
	assert.Equal(t, []string{"Completion Rate (%)", "50.00"}, summary[5])
	assert.Contains(t, summary, []string{"Count", "1"})
	assert.Contains(t, summary, []string{"Median", "800.00"})
	assert.Contains(t, summary, []string{"caseB", "1", "0", "1", "0.00", ""})
	assert.Contains(t, summary, []string{"no_downstream_output", "1"})

	detail := readCSV(t, out.Detail)
	require.Len(t, detail, 3)
	assert.Equal(t, []string{
		"Correlation ID", "Entity", "Process Instance", "Status", "Incomplete Reason",
		"sent", "received", "processed", "aggregated", "detected", "End-to-End (ms)",
		"sent_to_received (ms)", "sent_to_processed (ms)", "received_to_processed (ms)", "processed_to_detected (ms)",
	}, detail[0])
	completed := detail[1]
	assert.Equal(t, "completed", completed[3])
	assert.Equal(t, "", completed[8], "aggregated never fired")
	assert.Equal(t, "800", completed[10])
	assert.Equal(t, []string{"200", "", "300", "300"}, completed[11:])
	incomplete := detail[2]
	assert.Equal(t, "no_downstream_output", incomplete[4])
	assert.Equal(t, "", incomplete[10])
	assert.Equal(t, []string{"", "100", "", ""}, incomplete[11:])
}

func TestExportCompressedArchive(t *testing.T) {
	fake := clock.Fake(epoch)
	exp := New(sampleStore(t, fake), Options{
		Layout:   paths.Layout{Dir: t.TempDir(), Component: "c"},
		Clock:    fake,
		Compress: true,
	})

	out, err := exp.Export(context.Background())
	require.NoError(t, err)
	require.Equal(t, out.Snapshot+".gz", out.Archive)

	f, err := os.Open(out.Archive)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	unpacked, err := io.ReadAll(gz)
	require.NoError(t, err)

	plain, err := os.ReadFile(out.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, plain, unpacked)
}

func TestExportPushesToCollector(t *testing.T) {
	var got []byte
	var component string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		component = r.Header.Get("X-Component-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	fake := clock.Fake(epoch)
	exp := New(sampleStore(t, fake), Options{
		Layout:       paths.Layout{Dir: t.TempDir(), Component: "agg"},
		Clock:        fake,
		CollectorURL: srv.URL,
	})

	out, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Pushed)
	assert.Equal(t, "agg", component)
	assert.True(t, bytes.Contains(got, []byte(`"component": "agg"`)))
}

func TestExportSurvivesCollectorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil

	fake := clock.Fake(epoch)
	exp := New(sampleStore(t, fake), Options{
		Layout:       paths.Layout{Dir: t.TempDir(), Component: "agg"},
		Clock:        fake,
		CollectorURL: srv.URL,
		HTTPClient:   client,
	})

	out, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Pushed)
	assert.FileExists(t, out.Snapshot)
}

func TestExportFailsWhenDirUnwritable(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	var observed []string
	exp := New(Records{}, Options{
		Layout:  paths.Layout{Dir: filepath.Join(blocker, "sub"), Component: "c"},
		Clock:   clock.Fake(epoch),
		Observe: func(status string) { observed = append(observed, status) },
	})

	_, err := exp.Export(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"error"}, observed)
}

func TestPruneKeepsNewest(t *testing.T) {
	fake := clock.Fake(epoch)
	dir := t.TempDir()
	layout := paths.Layout{Dir: dir, Component: "c"}

	// Another component's export must survive pruning.
	other := paths.Layout{Dir: dir, Component: "other"}
	require.NoError(t, os.WriteFile(other.SnapshotPath(DefaultPrefix, epoch), []byte("{}"), 0o644))

	exp := New(Records{}, Options{Layout: layout, Clock: fake, Keep: 2})
	var exports []Paths
	for i := 0; i < 3; i++ {
		out, err := exp.Export(context.Background())
		require.NoError(t, err)
		exports = append(exports, out)
		fake.Advance(time.Second)
	}

	assert.NoFileExists(t, exports[0].Snapshot)
	assert.NoFileExists(t, exports[0].Summary)
	assert.NoFileExists(t, exports[0].Detail)
	for _, out := range exports[1:] {
		assert.FileExists(t, out.Snapshot)
		assert.FileExists(t, out.Detail)
	}
	assert.FileExists(t, other.SnapshotPath(DefaultPrefix, epoch))
}

func TestPruneLeavesComponentsSharingAPrefix(t *testing.T) {
	fake := clock.Fake(epoch)
	dir := t.TempDir()

	longer := New(Records{}, Options{Layout: paths.Layout{Dir: dir, Component: "worker-2"}, Clock: fake})
	kept, err := longer.Export(context.Background())
	require.NoError(t, err)
	fake.Advance(time.Second)

	short := New(Records{}, Options{Layout: paths.Layout{Dir: dir, Component: "worker"}, Clock: fake, Keep: 1})
	for i := 0; i < 2; i++ {
		_, err := short.Export(context.Background())
		require.NoError(t, err)
		fake.Advance(time.Second)
	}

	assert.FileExists(t, kept.Snapshot)
	assert.FileExists(t, kept.Summary)
	assert.FileExists(t, kept.Detail)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestSummaryCSVWithoutCompletedTraces(t *testing.T) {
	var buf bytes.Buffer
	exp := New(Records{}, Options{Clock: clock.Fake(epoch)})
	require.NoError(t, WriteSummaryCSV(&buf, exp.Build().Statistics))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Metric,Value\n"))
	assert.NotContains(t, out, "End-to-End Delay")
	assert.Contains(t, out, "Process,Total,Completed")
}
