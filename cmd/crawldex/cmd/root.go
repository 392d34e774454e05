// Package cmd provides the CLI commands for crawldex.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/logging"
	"github.com/crawldex/crawldex/internal/profiling"
	"github.com/crawldex/crawldex/pkg/version"
)

// globalFlags are the persistent flags shared by all commands.
type globalFlags struct {
	configPath string
	debug      bool
	profile    profiling.Options

	profiler *profiling.Profiler
}

// NewRootCmd creates the root command for the crawldex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalFlags) {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "crawldex",
		Short: "Crawl a site mirror into a search index and serve hybrid search",
		Long: `crawldex walks a directory tree of crawled pages, extracts each page's
title and text, and bulk-writes them to a search index. It then serves hybrid
(lexical + vector) and more-like-this search over HTTP.

The index engine is either embedded (bleve + hnsw, no setup needed) or an
OpenSearch cluster.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return flags.startProfiling()
		},
	}

	cmd.SetVersionTemplate("crawldex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default ./crawldex.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Log at debug level and mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&flags.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&flags.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&flags.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newParseCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newSimilarCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newLogsCmd(flags))
	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newDoctorCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd, flags
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, flags := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, flags.stopProfiling())
}

func (f *globalFlags) startProfiling() error {
	if !f.profile.Enabled() {
		return nil
	}
	p, err := profiling.Start(f.profile)
	if err != nil {
		return err
	}
	f.profiler = p
	return nil
}

// stopProfiling flushes any running profiles. A no-op when none were started.
func (f *globalFlags) stopProfiling() error {
	if f.profiler == nil {
		return nil
	}
	return f.profiler.Stop()
}

// loadConfig loads and validates the effective configuration.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Stderr = true
	}
	return cfg, nil
}

// setupLogging opens the JSON log of stream and installs it as the default logger.
func setupLogging(cfg *config.Config, stream logging.Stream) (*slog.Logger, func(), error) {
	logger, cleanup, err := logging.Setup(cfg.LoggingFor(stream))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
