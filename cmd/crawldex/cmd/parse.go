package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/crawl"
	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/extract"
	"github.com/crawldex/crawldex/internal/ingest"
	"github.com/crawldex/crawldex/internal/logging"
	"github.com/crawldex/crawldex/internal/output"
)

type parseOptions struct {
	index      string
	bulk       bool
	jsonReport bool
}

// engineOpener is replaced in tests.
var engineOpener = openEngine

func newParseCmd(flags *globalFlags) *cobra.Command {
	opts := parseOptions{}

	cmd := &cobra.Command{
		Use:   "parse <path>",
		Short: "Extract records from a crawled file or directory tree",
		Long: `Extract title and text from crawled pages.

For a file, prints the one extracted record as JSON. For a directory, walks
the tree and prints one JSON record per line. The first directory level below
the root names each record's category; deeper directories form the URL path.

With --bulk the records are bulk-written to the configured index (engine.index)
instead of printed, and a run report is shown. --index names another index. The command fails only when every batch
failed.

The run is logged to <logging.dir>/yyyy_MM_dd_parser.log.`,
		Example: `  # Print the record for one page
  crawldex parse site/admissions/apply.html

  # Walk a mirror and write it to the configured index
  crawldex parse site --bulk

  # Write it to a different index
  crawldex parse site --index crawl-staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if opts.bulk && opts.index == "" {
				opts.index = cfg.Engine.Index
			}
			return runParse(cmd.Context(), cmd, cfg, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.bulk, "bulk", false, "Bulk-write the records to the configured index")
	cmd.Flags().StringVar(&opts.index, "index", "", "Bulk-write the records to this index")
	cmd.Flags().BoolVar(&opts.jsonReport, "json", false, "Print the run report as JSON")

	return cmd
}

func runParse(ctx context.Context, cmd *cobra.Command, cfg *config.Config, path string, opts parseOptions) error {
	logger, cleanup, err := setupLogging(cfg, logging.StreamParser)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeFileNotFound, "path not found: "+path, err)
	}

	walker, err := crawl.New(extract.New(extract.WithMaxFileSize(cfg.Ingest.MaxFileSize)), crawl.Options{
		MaxDepth: cfg.Ingest.MaxDepth,
		Exclude:  cfg.Ingest.Exclude,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("parse_started", slog.String("path", path), slog.Bool("dir", info.IsDir()))
	records, stats, err := walker.Walk(ctx, path)
	if err != nil {
		return err
	}
	logger.Info("parse_finished",
		slog.Int("files", stats.Files),
		slog.Int("records", stats.Records),
		slog.Int("failed", stats.Failed),
		slog.Int("excluded", stats.Excluded),
		slog.Int("skipped", stats.Skipped))

	out := output.New(cmd.ErrOrStderr())
	if opts.index == "" {
		if err := printRecords(cmd.OutOrStdout(), records, !info.IsDir()); err != nil {
			return err
		}
		if info.IsDir() {
			printWalkSummary(out, stats)
		} else if len(records) == 0 {
			return cerrors.New(cerrors.ErrCodeExtractionFailed, "no record extracted from "+path, nil).
				WithSuggestion("Check the parser log for the extraction error")
		}
		return nil
	}

	if info.IsDir() {
		printWalkSummary(out, stats)
	}
	client, err := engineOpener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("engine_close_failed", slog.String("error", cerr.Error()))
		}
	}()
	return indexRecords(ctx, cmd, cfg, client, logger, opts, records)
}

func indexRecords(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client engine.Client,
	logger *slog.Logger, opts parseOptions, records []document.IndexRecord) error {
	progress := output.NewReporter(cmd.ErrOrStderr())
	ix, err := ingest.New(client, ingest.Options{
		Index:         opts.index,
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		Logger:        logger,
		OnFlush:       func(r ingest.BatchResult) { progress.Add(r.Size) },
	})
	if err != nil {
		return err
	}

	progress.Start(len(records), "Indexing")
	report, err := ix.Index(ctx, records)
	progress.Finish()
	if err != nil {
		return err
	}

	if opts.jsonReport {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if err := report.WriteText(cmd.OutOrStdout()); err != nil {
		return err
	}

	if report.Failed() {
		return cerrors.New(cerrors.ErrCodeBulkFailed, "every bulk batch failed", nil).
			WithDetail("index", opts.index).
			WithSuggestion("Check that the index engine is reachable (engine.addresses) and see the parser log")
	}
	return nil
}

// printRecords writes one indented record for a single file, or JSON lines.
func printRecords(w io.Writer, records []document.IndexRecord, single bool) error {
	enc := json.NewEncoder(w)
	if single {
		enc.SetIndent("", "  ")
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

func printWalkSummary(out *output.Writer, stats crawl.Stats) {
	out.Successf("Extracted %d records from %d files", stats.Records, stats.Files)
	if stats.Failed > 0 {
		out.Warningf("%d files could not be extracted (see parser log)", stats.Failed)
	}
	if stats.Excluded > 0 || stats.Skipped > 0 {
		out.Statusf("", "%d excluded, %d skipped", stats.Excluded, stats.Skipped)
	}
	if stats.DepthHits > 0 {
		out.Warningf("%d directories were deeper than ingest.max_depth", stats.DepthHits)
	}
}
