package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/logging"
	"github.com/crawldex/crawldex/internal/output"
	"github.com/crawldex/crawldex/internal/search"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "search <term...>",
		Short: "Run a hybrid search",
		Long: `Run the hybrid (lexical + vector) search used by /api/search.

Results are shown in engine relevance order.`,
		Example: `  crawldex search tuition fees
  crawldex search "student housing" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryCmd(cmd, flags, search.ModeHybrid, strings.Join(args, " "), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func newSimilarCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "similar <text...>",
		Short: "Find pages similar to a piece of text",
		Long: `Run the more-like-this search used by /api/MLTsearch.

The arguments are the seed text whose significant terms select similar pages.`,
		Example: `  crawldex similar "scholarship application deadline"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryCmd(cmd, flags, search.ModeSimilar, strings.Join(args, " "), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func runQueryCmd(cmd *cobra.Command, flags *globalFlags, mode search.Mode, term, format string) error {
	if format != formatText && format != formatJSON {
		return fmt.Errorf("unknown format %q (use: text, json)", format)
	}
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	results, err := runQuery(cmd.Context(), cfg, mode, term)
	if err != nil {
		return err
	}

	if format == formatJSON {
		if results == nil {
			results = []document.QueryResult{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	output.New(cmd.OutOrStdout()).Results(results)
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, mode search.Mode, term string) ([]document.QueryResult, error) {
	logger, cleanup, err := setupLogging(cfg, logging.StreamServer)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	client, err := engineOpener(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("engine_close_failed", slog.String("error", cerr.Error()))
		}
	}()

	svc, err := newSearchService(cfg, client, nil, logger)
	if err != nil {
		return nil, err
	}
	if mode == search.ModeSimilar {
		return svc.Similar(ctx, term)
	}
	return svc.Search(ctx, term)
}
