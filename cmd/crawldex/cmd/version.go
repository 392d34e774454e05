package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/pkg/version"
)

const formatShort = "short"

// versionReport is the json output: build info plus the User-Agent sent to
// OpenSearch and Ollama, which is what shows up in their access logs.
type versionReport struct {
	version.BuildInfo
	UserAgent string `json:"user_agent"`
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the crawldex version, commit, build date and Go version.

The json format also carries the User-Agent crawldex sends to the index
engine and the embedding server.`,
		Example: `  crawldex version
  crawldex version --format short
  crawldex version --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch format {
			case formatText:
				_, err := fmt.Fprintln(w, version.String())
				return err
			case formatShort:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case formatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(versionReport{BuildInfo: version.GetInfo(), UserAgent: version.UserAgent()})
			}
			return fmt.Errorf("unknown format %q (use: text, short, json)", format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, short, json")

	return cmd
}
