package cmd

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/crawldex/crawldex/internal/config"
	"github.com/crawldex/crawldex/internal/embed"
	"github.com/crawldex/crawldex/internal/engine"
	"github.com/crawldex/crawldex/internal/engine/local"
	"github.com/crawldex/crawldex/internal/engine/opensearch"
	"github.com/crawldex/crawldex/internal/query"
	"github.com/crawldex/crawldex/internal/search"
)

// localBackend closes the embedder along with the engine.
type localBackend struct {
	*local.Engine
	embedder embed.Embedder
}

func (b *localBackend) Close() error {
	return errors.Join(b.Engine.Close(), b.embedder.Close())
}

// openEngine creates the engine client selected by engine.backend.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Client, error) {
	if strings.ToLower(cfg.Engine.Backend) == config.BackendOpenSearch {
		return opensearch.New(opensearch.Config{
			Addresses:          cfg.Engine.Addresses,
			Username:           cfg.Engine.Username,
			Password:           cfg.Engine.Password,
			InsecureSkipVerify: cfg.Engine.InsecureSkipVerify,
			Timeout:            cfg.Server.RequestTimeout,
			Logger:             logger,
		})
	}

	embedder, err := embed.New(ctx, embed.Options{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		OllamaHost: cfg.Embeddings.OllamaHost,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	eng, err := local.Open(local.Options{
		DataDir:         cfg.Engine.DataDir,
		Embedder:        embedder,
		OrphanThreshold: cfg.Engine.Compaction.OrphanThreshold,
		MinOrphanCount:  cfg.Engine.Compaction.MinOrphanCount,
		Logger:          logger,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	return &localBackend{Engine: eng, embedder: embedder}, nil
}

// composerFor builds the query composer from the search section.
func composerFor(cfg *config.Config) *query.Composer {
	return query.NewComposer(query.Settings{
		K:                cfg.Search.K,
		TerminateAfter:   cfg.Search.TerminateAfter,
		HybridSize:       cfg.Search.HybridSize,
		MLTSize:          cfg.Search.MLTSize,
		MLTMinTermFreq:   cfg.Search.MLTMinTermFreq,
		MLTMaxQueryTerms: cfg.Search.MLTMaxQueryTerms,
		ModelID:          cfg.Engine.ModelID,
	})
}

// newSearchService wires a search service to client. metrics may be nil.
func newSearchService(cfg *config.Config, client engine.Client, metrics search.Recorder, logger *slog.Logger) (*search.Service, error) {
	return search.New(client, search.Options{
		Index:    cfg.Engine.Index,
		Composer: composerFor(cfg),
		Metrics:  metrics,
		Logger:   logger,
	})
}
