package cmd

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/logging"
	"github.com/crawldex/crawldex/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	logFile string
	source  string
}

func newLogsCmd(flags *globalFlags) *cobra.Command {
	opts := logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View crawldex logs",
		Long: `View and tail the JSON logs written by 'serve' and 'parse'.

Log Sources:
  server  - HTTP service log (<logging.dir>/server.log)
  parser  - newest daily ingestion log (<logging.dir>/yyyy_MM_dd_parser.log)
  all     - both, merged by timestamp`,
		Example: `  crawldex logs                   # last 50 lines of the server log
  crawldex logs --source parser   # latest ingestion run
  crawldex logs --source all -f   # follow both
  crawldex logs --level error
  crawldex logs --grep bulk_`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return runLogs(cmd.Context(), cmd, cfg.Logging.Dir, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "grep", "", "Only show lines matching this regex")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to a log file (overrides --source)")
	cmd.Flags().StringVar(&opts.source, "source", string(logging.LogSourceServer), "Log source: server, parser, or all")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, dir string, opts logsOptions) error {
	source, err := logging.ParseLogSource(opts.source)
	if err != nil {
		return err
	}
	paths, err := logging.FindLogFiles(dir, source, opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:      opts.level,
		Pattern:    pattern,
		NoColor:    opts.noColor || !output.IsTTY(out),
		ShowSource: len(paths) > 1,
	}, out)

	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Log files: %s\n", strings.Join(paths, ", "))
	if opts.follow {
		_, _ = fmt.Fprintln(errOut, "Following... (Ctrl+C to stop)")
	}
	_, _ = fmt.Fprintln(errOut, "---")

	entries, err := viewer.Tail(paths, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !opts.follow {
		return nil
	}

	stream := make(chan logging.LogEntry, 64)
	errc := make(chan error, 1)
	go func() { errc <- viewer.Follow(ctx, paths, stream) }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case e := <-stream:
			_, _ = fmt.Fprintln(out, viewer.FormatEntry(e))
		}
	}
}
