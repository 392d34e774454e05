package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/embed"
	"github.com/crawldex/crawldex/internal/preflight"
)

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment before parsing or serving",
		Long: `Run system diagnostics for the configured deployment.

Checks:
  - Log directory is writable
  - Engine data directory is writable (local backend with data_dir)
  - Free disk space for saving the index (its current size, 100MB minimum)
  - Open file limit for serving it (1024 minimum, more for large indexes)
  - Index engine answers a search
  - Ollama is reachable (ollama embeddings only, warning)

A local on-disk index held by a running 'serve' fails the engine check.`,
		Example: `  crawldex doctor
  crawldex doctor --verbose
  crawldex doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return runDoctor(cmd, cfg, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// doctorReport is the --json output.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func runDoctor(cmd *cobra.Command, cfg *config.Config, verbose, jsonOutput bool) error {
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)

	target := preflight.Target{
		LogDir: cfg.Logging.Dir,
		Probes: doctorProbes(cfg),
	}
	if strings.ToLower(cfg.Engine.Backend) != config.BackendOpenSearch {
		target.DataDir = cfg.Engine.DataDir
	}

	results := checker.RunAll(cmd.Context(), target)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorReport{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

// doctorProbes returns the connectivity checks for cfg.
func doctorProbes(cfg *config.Config) []preflight.Probe {
	probes := []preflight.Probe{{
		Name:     "engine",
		Required: true,
		Run: func(ctx context.Context) error {
			logger := slog.New(slog.DiscardHandler)
			client, err := engineOpener(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			svc, err := newSearchService(cfg, client, nil, logger)
			if err != nil {
				return err
			}
			_, err = svc.Similar(ctx, "crawldex")
			return err
		},
	}}

	if strings.ToLower(cfg.Engine.Backend) != config.BackendOpenSearch &&
		strings.ToLower(cfg.Embeddings.Provider) == config.ProviderOllama {
		probes = append(probes, preflight.Probe{
			Name: "embedder",
			Run: func(ctx context.Context) error {
				embedder, err := embed.New(ctx, embed.Options{
					Provider:   cfg.Embeddings.Provider,
					Model:      cfg.Embeddings.Model,
					OllamaHost: cfg.Embeddings.OllamaHost,
				})
				if err != nil {
					return err
				}
				defer func() { _ = embedder.Close() }()
				if !embedder.Available(ctx) {
					return fmt.Errorf("ollama at %s did not answer", cfg.Embeddings.OllamaHost)
				}
				return nil
			},
		})
	}
	return probes
}
