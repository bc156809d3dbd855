package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults
const (
	// SharedDir is the default directory holding the shared trace file.
	SharedDir = "/tmp/egsm-performance-shared"

	// FallbackDir is used when SharedDir cannot be created.
	FallbackDir = "./performance-data"

	// TracesFile is the shared trace-state file inside the shared directory.
	TracesFile = "traces.json"

	// DirPerm is applied to directories the tracer creates.
	DirPerm = 0o755

	// FilePerm is applied to files the tracer writes.
	FilePerm = 0o644
)

// Layout is the resolved set of directories for one component.
type Layout struct {
	Dir       string
	Component string
	Fallback  bool
}

// Resolve creates dir (or fallback, if dir cannot be created) and returns
// the layout rooted at whichever succeeded.
func Resolve(dir, fallback, component string) (Layout, error) {
	if dir == "" {
		dir = SharedDir
	}
	if fallback == "" {
		fallback = FallbackDir
	}

	if err := os.MkdirAll(dir, DirPerm); err == nil {
		return Layout{Dir: dir, Component: component}, nil
	}

	if err := os.MkdirAll(fallback, DirPerm); err != nil {
		return Layout{}, fmt.Errorf("failed to create shared dir %q or fallback %q: %w", dir, fallback, err)
	}
	return Layout{Dir: fallback, Component: component, Fallback: true}, nil
}

// TracesPath returns the shared trace-state file path.
func (l Layout) TracesPath() string {
	return filepath.Join(l.Dir, TracesFile)
}

// Stamp formats t for use in export filenames. Colons and dots are
// replaced so the result is portable across filesystems.
func Stamp(t time.Time) string {
	return strings.Replace(t.UTC().Format("2006-01-02T15-04-05.000Z"), ".", "-", 1)
}

// SnapshotPath returns <prefix>-<component>-<ts>.json.
func (l Layout) SnapshotPath(prefix string, t time.Time) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s-%s-%s.json", prefix, l.Component, Stamp(t)))
}

// SummaryPath returns <prefix>-summary-<component>-<ts>.csv.
func (l Layout) SummaryPath(prefix string, t time.Time) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s-summary-%s-%s.csv", prefix, l.Component, Stamp(t)))
}

// DetailPath returns <prefix>-traces-<component>-<ts>.csv.
func (l Layout) DetailPath(prefix string, t time.Time) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s-traces-%s-%s.csv", prefix, l.Component, Stamp(t)))
}

// stampGlob matches exactly one Stamp. A bare "*" after the component
// would also match components that extend it, such as "worker-2" for
// "worker".
const stampGlob = "[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T[0-9][0-9]-[0-9][0-9]-[0-9][0-9]-[0-9][0-9][0-9]Z"

// ExportPatterns returns one glob per export kind, relative to Dir.
// Each matches only this component's files.
func (l Layout) ExportPatterns(prefix string) []string {
	return []string{
		fmt.Sprintf("%s-%s-%s.json", prefix, l.Component, stampGlob),
		fmt.Sprintf("%s-%s-%s.json.gz", prefix, l.Component, stampGlob),
		fmt.Sprintf("%s-summary-%s-%s.csv", prefix, l.Component, stampGlob),
		fmt.Sprintf("%s-traces-%s-%s.csv", prefix, l.Component, stampGlob),
	}
}
