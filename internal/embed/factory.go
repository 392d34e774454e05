package embed

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	Model      string
	OllamaHost string
	// CacheSize > 0 wraps the embedder in a CachedEmbedder.
	CacheSize int
}

// New creates the embedder named by opts.Provider. An explicitly chosen
// provider that cannot start is an error; there is no silent fallback.
func New(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch strings.ToLower(opts.Provider) {
	case ProviderStatic, "":
		embedder = NewStaticEmbedder()
	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:  opts.OllamaHost,
			Model: opts.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Pull the model: ollama pull %s\n  3. Or set embeddings.provider: static", err, opts.Model)
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (use: static, ollama)", opts.Provider)
	}

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
