package paths

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesSharedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shared", "nested")

	layout, err := Resolve(dir, filepath.Join(t.TempDir(), "fallback"), "engine-1")
	require.NoError(t, err)

	assert.Equal(t, dir, layout.Dir)
	assert.False(t, layout.Fallback)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, "traces.json"), layout.TracesPath())
}

func TestResolveFallsBack(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), FilePerm))

	fallback := filepath.Join(root, "fallback")
	layout, err := Resolve(filepath.Join(blocker, "shared"), fallback, "engine-1")
	require.NoError(t, err)

	assert.Equal(t, fallback, layout.Dir)
	assert.True(t, layout.Fallback)
}

func TestExportFilenames(t *testing.T) {
	layout := Layout{Dir: "/data", Component: "agg"}
	at := time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

	assert.Equal(t, "/data/perf-data-agg-2024-03-01T12-30-45-123Z.json", layout.SnapshotPath("perf-data", at))
	assert.Equal(t, "/data/perf-data-summary-agg-2024-03-01T12-30-45-123Z.csv", layout.SummaryPath("perf-data", at))
	assert.Equal(t, "/data/perf-data-traces-agg-2024-03-01T12-30-45-123Z.csv", layout.DetailPath("perf-data", at))

	patterns := layout.ExportPatterns("perf-data")
	require.Len(t, patterns, 4)
	for _, name := range []string{
		"perf-data-agg-2024-03-01T12-30-45-123Z.json",
		"perf-data-agg-2024-03-01T12-30-45-123Z.json.gz",
		"perf-data-summary-agg-2024-03-01T12-30-45-123Z.csv",
		"perf-data-traces-agg-2024-03-01T12-30-45-123Z.csv",
	} {
		assert.True(t, matchesAny(t, patterns, name), name)
	}
}

func TestExportPatternsSkipLongerComponentIDs(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
	worker := Layout{Dir: "/data", Component: "worker"}
	patterns := worker.ExportPatterns("perf-data")

	for _, component := range []string{"worker-2", "worker-2024", "worker-a"} {
		other := Layout{Dir: "/data", Component: component}
		for _, path := range []string{
			other.SnapshotPath("perf-data", at),
			other.SnapshotPath("perf-data", at) + ".gz",
			other.SummaryPath("perf-data", at),
			other.DetailPath("perf-data", at),
		} {
			assert.False(t, matchesAny(t, patterns, filepath.Base(path)), path)
		}
	}
}

func matchesAny(t *testing.T, patterns []string, name string) bool {
	t.Helper()
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		require.NoError(t, err)
		if ok {
			return true
		}
	}
	return false
}
