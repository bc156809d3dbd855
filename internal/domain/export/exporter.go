package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/stats"
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/shared/clock"
	"github.com/egsm/perftrace/internal/shared/paths"
)

// DefaultPrefix starts every export filename.
const DefaultPrefix = "perf-data"

// Source supplies the records to export.
type Source interface {
	Records() []trace.Record
}

// Records adapts a fixed slice to Source.
type Records []trace.Record

func (r Records) Records() []trace.Record { return r }

// Snapshot is the JSON export document.
type Snapshot struct {
	ExportID   string           `json:"export_id"`
	Component  string           `json:"component"`
	ExportedAt time.Time        `json:"exported_at"`
	Statistics stats.Statistics `json:"statistics"`
	Traces     []trace.Record   `json:"traces"`
}

// Paths lists the files one export produced.
type Paths struct {
	Snapshot string `json:"snapshot"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail"`
	Archive  string `json:"archive,omitempty"`
	Pushed   bool   `json:"pushed"`
}

// Options configures an Exporter.
type Options struct {
	Layout paths.Layout
	Prefix string
	// Compress also writes a gzip copy of the JSON snapshot.
	Compress bool
	// Keep prunes this component's older exports beyond the newest Keep
	// of each kind. Zero keeps everything.
	Keep int
	// CollectorURL, when set, receives the JSON snapshot by POST.
	CollectorURL string
	HTTPClient   *retryablehttp.Client
	Clock        clock.Clock
	Logger       *zap.Logger
	// Observe is told "ok" or "error" after each export.
	Observe func(status string)
}

// Exporter writes export sets for one component.
type Exporter struct {
	source Source
	opts   Options
	log    *zap.Logger
	client *retryablehttp.Client
}

// New creates an exporter over source.
func New(source Source, opts Options) *Exporter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observe == nil {
		opts.Observe = func(string) {}
	}
	log := opts.Logger.Named("export")

	client := opts.HTTPClient
	if client == nil && opts.CollectorURL != "" {
		client = retryablehttp.NewClient()
		client.RetryMax = 3
		client.RetryWaitMin = 500 * time.Millisecond
		client.RetryWaitMax = 5 * time.Second
		client.Logger = leveledLogger{log.Sugar()}
	}

	return &Exporter{source: source, opts: opts, log: log, client: client}
}

// Build assembles the snapshot document without writing anything.
func (e *Exporter) Build() Snapshot {
	records := e.source.Records()
	return Snapshot{
		ExportID:   uuid.NewString(),
		Component:  e.opts.Layout.Component,
		ExportedAt: e.opts.Clock.Now().UTC(),
		Statistics: stats.Compute(records),
		Traces:     records,
	}
}

// Export writes the JSON snapshot and both CSV tables, then the optional
// archive, collector push and pruning. Failures of the optional steps
// are logged and do not fail the export.
func (e *Exporter) Export(ctx context.Context) (Paths, error) {
	out, err := e.export(ctx)
	if err != nil {
		e.opts.Observe("error")
		e.log.Warn("export failed", zap.Error(err))
		return out, err
	}
	e.opts.Observe("ok")
	e.log.Info("exported performance data",
		zap.String("snapshot", out.Snapshot),
		zap.String("summary", out.Summary),
		zap.String("detail", out.Detail))
	return out, nil
}

func (e *Exporter) export(ctx context.Context) (Paths, error) {
	snap := e.Build()
	at := snap.ExportedAt
	layout := e.opts.Layout
	out := Paths{
		Snapshot: layout.SnapshotPath(e.opts.Prefix, at),
		Summary:  layout.SummaryPath(e.opts.Prefix, at),
		Detail:   layout.DetailPath(e.opts.Prefix, at),
	}

	if err := os.MkdirAll(layout.Dir, paths.DirPerm); err != nil {
		return out, fmt.Errorf("export: create dir: %w", err)
	}

	data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return out, fmt.Errorf("export: encode snapshot: %w", err)
	}
	if err := os.WriteFile(out.Snapshot, data, paths.FilePerm); err != nil {
		return out, fmt.Errorf("export: write snapshot: %w", err)
	}

	if err := writeWith(out.Summary, func(w io.Writer) error {
		return WriteSummaryCSV(w, snap.Statistics)
	}); err != nil {
		return out, fmt.Errorf("export: write summary: %w", err)
	}
	if err := writeWith(out.Detail, func(w io.Writer) error {
		return WriteDetailCSV(w, snap.Traces)
	}); err != nil {
		return out, fmt.Errorf("export: write detail: %w", err)
	}

	if e.opts.Compress {
		archive := out.Snapshot + ".gz"
		if err := writeGzip(archive, data); err != nil {
			e.log.Warn("archive failed", zap.String("path", archive), zap.Error(err))
		} else {
			out.Archive = archive
		}
	}

	if e.opts.CollectorURL != "" {
		if err := e.push(ctx, data); err != nil {
			e.log.Warn("collector push failed", zap.String("url", e.opts.CollectorURL), zap.Error(err))
		} else {
			out.Pushed = true
		}
	}

	if e.opts.Keep > 0 {
		if _, err := e.Prune(e.opts.Keep); err != nil {
			e.log.Warn("prune failed", zap.Error(err))
		}
	}
	return out, nil
}

// Prune removes this component's exports beyond the newest keep of each
// kind and returns how many files were removed.
func (e *Exporter) Prune(keep int) (int, error) {
	dir := e.opts.Layout.Dir
	fsys := os.DirFS(dir)
	removed := 0

	for _, pattern := range e.opts.Layout.ExportPatterns(e.opts.Prefix) {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return removed, fmt.Errorf("export: glob %q: %w", pattern, err)
		}
		if len(matches) <= keep {
			continue
		}
		// Timestamps in the names sort chronologically.
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, name := range matches[keep:] {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return removed, fmt.Errorf("export: remove %s: %w", name, err)
			}
			removed++
		}
	}
	if removed > 0 {
		e.log.Debug("pruned old exports", zap.Int("removed", removed))
	}
	return removed, nil
}

func (e *Exporter) push(ctx context.Context, data []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", e.opts.CollectorURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Component-ID", e.opts.Layout.Component)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}

func writeWith(path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.FilePerm)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeGzip(path string, data []byte) error {
	return writeWith(path, func(w io.Writer) error {
		gz := gzip.NewWriter(w)
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	})
}

// leveledLogger routes retryablehttp logs through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
