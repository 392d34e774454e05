package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/logging"
	"github.com/crawldex/crawldex/internal/server"
	"github.com/crawldex/crawldex/internal/telemetry"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Long: `Start the HTTP search service.

Endpoints:
  GET /api/search?term=<text>     hybrid search
  GET /api/MLTsearch?id=<text>    more-like-this search seeded with the text
  GET /api/stats                  query metrics since start
  GET /api/test                   liveness string
  GET /healthz                    health check

The server stops gracefully on SIGINT or SIGTERM. Requests are logged to
<logging.dir>/server.log.`,
		Example: `  crawldex serve
  crawldex serve --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default server.port)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, cleanup, err := setupLogging(cfg, logging.StreamServer)
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

	metrics := telemetry.NewQueryMetrics(telemetry.DefaultConfig())
	svc, err := newSearchService(cfg, client, metrics, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Port:                  cfg.Server.Port,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		LegacyTransportStatus: cfg.Server.LegacyTransportStatus,
		RequestTimeout:        cfg.Server.RequestTimeout,
		ShutdownTimeout:       cfg.Server.ShutdownTimeout,
		Stats:                 metrics,
		Logger:                logger,
	}, svc)

	logger.Info("serve_starting",
		slog.Int("port", cfg.Server.Port),
		slog.String("backend", cfg.Engine.Backend),
		slog.String("index", cfg.Engine.Index))
	return srv.ListenAndServe(ctx)
}
