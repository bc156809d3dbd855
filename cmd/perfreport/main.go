package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"

	"github.com/egsm/perftrace/internal/domain/export"
	"github.com/egsm/perftrace/internal/domain/stats"
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/config"
	"github.com/egsm/perftrace/internal/infrastructure/logging"
	"github.com/egsm/perftrace/internal/report"
	"github.com/egsm/perftrace/internal/shared/paths"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		from      []string
		format    string
		exportDir string
		timeout   time.Duration
	)

	flagSet := pflag.NewFlagSet("perfreport", pflag.ContinueOnError)
	flags := config.AddFlags(flagSet)
	flagSet.StringSliceVar(&from, "from", nil, "base URL of a running tracer (repeatable)")
	flagSet.StringVar(&format, "format", "text", "output format: text or json")
	flagSet.StringVar(&exportDir, "export", "", "write an export set to this directory instead of printing")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "timeout per tracer request")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	logger := logging.NewNop()
	if cfg.Logging.Development {
		logger, err = logging.New(logging.DevelopmentConfig())
		if err != nil {
			return err
		}
	}

	records, err := gather(cfg, from, timeout)
	if err != nil {
		return err
	}

	if exportDir != "" {
		layout, err := paths.Resolve(exportDir, exportDir, cfg.Component)
		if err != nil {
			return err
		}
		exp := export.New(export.Records(records), export.Options{
			Layout:   layout,
			Prefix:   cfg.Export.Prefix,
			Compress: cfg.Export.Compress,
			Logger:   logger.Logger,
		})
		out, err := exp.Export(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(out.Snapshot)
		fmt.Println(out.Summary)
		fmt.Println(out.Detail)
		return nil
	}

	s := stats.Compute(records)
	if format == "json" {
		data, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Println(string(data))
		return err
	}
	return report.WriteText(os.Stdout, s)
}

func gather(cfg *config.Config, from []string, timeout time.Duration) ([]trace.Record, error) {
	if len(from) == 0 {
		layout := paths.Layout{Dir: cfg.Tracer.SharedDir, Component: cfg.Component}
		return report.FromFile(layout.TracesPath())
	}

	client := report.NewClient(timeout)
	sets := make([][]trace.Record, 0, len(from))
	for _, base := range from {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		records, err := report.FromURL(ctx, client, base)
		cancel()
		if err != nil {
			return nil, err
		}
		sets = append(sets, records)
	}
	return report.Combine(sets...), nil
}
