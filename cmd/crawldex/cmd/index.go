package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/engine/local"
	"github.com/crawldex/crawldex/internal/logging"
)

// indexMaintainer is implemented by the local engine.
type indexMaintainer interface {
	Stats(index string) (local.Stats, error)
	Compact(index string) (int, error)
}

func newIndexCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect and maintain the local index",
		Long: `Inspect and maintain the index kept by the local backend under engine.data_dir.

An OpenSearch cluster is managed through its own tooling.`,
	}

	cmd.AddCommand(newIndexInfoCmd(flags))
	cmd.AddCommand(newIndexCompactCmd(flags))

	return cmd
}

// indexInfo is the --json output of 'index info'.
type indexInfo struct {
	Index   string `json:"index"`
	DataDir string `json:"data_dir"`
	local.Stats
}

func newIndexInfoCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show document and vector counts",
		Long: `Display the number of documents in the configured index, the vectors held
for each embedding field, and how many graph nodes were left behind by
replaced embeddings.`,
		Example: `  crawldex index info
  crawldex index info --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return withMaintainer(cmd.Context(), cfg, func(m indexMaintainer) error {
				stats, err := m.Stats(cfg.Engine.Index)
				if err != nil {
					return err
				}
				info := indexInfo{Index: cfg.Engine.Index, DataDir: cfg.Engine.DataDir, Stats: stats}
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(info)
				}
				printIndexInfo(cmd, info)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func printIndexInfo(cmd *cobra.Command, info indexInfo) {
	w := cmd.OutOrStdout()
	dataDir := info.DataDir
	if dataDir == "" {
		dataDir = "(in memory)"
	}
	_, _ = fmt.Fprintf(w, "Index:      %s\n", info.Index)
	_, _ = fmt.Fprintf(w, "Data dir:   %s\n", dataDir)
	_, _ = fmt.Fprintf(w, "Documents:  %d\n", info.Documents)
	_, _ = fmt.Fprintln(w, "Vectors:")

	fields := make([]string, 0, len(info.Vectors))
	for f := range info.Vectors {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "  %-18s %d (%d orphans)\n", f, info.Vectors[f], info.Orphans[f])
	}
}

func newIndexCompactCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild vector graphs without orphaned nodes",
		Long: `Rebuild every vector graph of the configured index from its live vectors.

Re-parsing a crawl replaces embeddings and leaves the old graph nodes in
place. Ingestion compacts once engine.compaction limits are passed; this
command compacts regardless. No embeddings are recomputed.`,
		Example: `  crawldex index compact`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return withMaintainer(cmd.Context(), cfg, func(m indexMaintainer) error {
				start := time.Now()
				dropped, err := m.Compact(cfg.Engine.Index)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Compacted %s: dropped %d orphaned nodes in %s\n",
					cfg.Engine.Index, dropped, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// withMaintainer opens the configured engine and runs fn against it. Only
// the local backend supports maintenance.
func withMaintainer(ctx context.Context, cfg *config.Config, fn func(indexMaintainer) error) error {
	logger, cleanup, err := setupLogging(cfg, logging.StreamParser)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := engineOpener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("engine_close_failed", slog.String("error", cerr.Error()))
		}
	}()

	m, ok := client.(indexMaintainer)
	if !ok {
		return fmt.Errorf("index maintenance needs the local backend, engine.backend is %q", cfg.Engine.Backend)
	}
	return fn(m)
}
