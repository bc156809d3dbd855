package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/infrastructure/config"
	"github.com/egsm/perftrace/internal/infrastructure/logging"
	"github.com/egsm/perftrace/internal/server"
)

const exportTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("perftrace", pflag.ContinueOnError)
	flags := config.AddFlags(flagSet)
	exportOnExit := flagSet.Bool("export-on-exit", true, "write an export set on shutdown")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Flush()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("Received shutdown signal")
	}

	if *exportOnExit {
		exportCtx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if _, err := srv.Cleanup(exportCtx); err != nil {
			logger.Error("export on shutdown failed", zap.Error(err))
		}
	}
	return runErr
}
