// Package search runs hybrid and more-like-this queries against the index
// engine and projects the hits into client-facing results.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
	"github.com/crawldex/crawldex/internal/telemetry"
)

// Mode names the kind of query a call ran.
type Mode string

const (
	// ModeHybrid is the combined lexical and vector search.
	ModeHybrid Mode = "hybrid"
	// ModeSimilar is the more-like-this search.
	ModeSimilar Mode = "similar"
)

// Options configures a Service.
type Options struct {
	// Index is the index searched. Required.
	Index string

	// Composer builds the engine requests. Nil uses the default settings.
	Composer *query.Composer

	// Metrics receives one event per dispatched query. Optional.
	Metrics Recorder

	Logger *slog.Logger
}

// Recorder collects query events.
type Recorder interface {
	Record(event telemetry.QueryEvent)
}

// Service dispatches composed queries to an engine.
//
// A Service holds no per-call state and is safe for concurrent use as long as
// its engine client is.
type Service struct {
	client   engine.Client
	composer *query.Composer
	index    string
	metrics  Recorder
	logger   *slog.Logger
}

// New creates a Service.
func New(client engine.Client, opts Options) (*Service, error) {
	if client == nil {
		return nil, cerrors.InternalError("search service requires an engine client", nil)
	}
	if opts.Index == "" {
		return nil, cerrors.ValidationError("index name is required", nil).
			WithSuggestion("Set engine.index in crawldex.yaml or CRAWLDEX_INDEX")
	}
	composer := opts.Composer
	if composer == nil {
		composer = query.NewComposer(query.DefaultSettings())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		composer: composer,
		index:    opts.Index,
		metrics:  opts.Metrics,
		logger:   logger,
	}, nil
}

// Index returns the index name the service searches.
func (s *Service) Index() string {
	return s.index
}

// Search runs the hybrid query for term.
func (s *Service) Search(ctx context.Context, term string) ([]document.QueryResult, error) {
	return s.run(ctx, ModeHybrid, term)
}

// Similar runs the more-like-this query seeded with term. The term is the
// comparison text itself, not a document id.
func (s *Service) Similar(ctx context.Context, term string) ([]document.QueryResult, error) {
	return s.run(ctx, ModeSimilar, term)
}

func (s *Service) run(ctx context.Context, mode Mode, term string) ([]document.QueryResult, error) {
	if term == "" {
		return nil, cerrors.ValidationError("search term is required", nil).
			WithDetail("mode", string(mode))
	}

	var req *query.Request
	switch mode {
	case ModeSimilar:
		req = s.composer.MoreLikeThis(term)
	default:
		req = s.composer.Hybrid(term)
	}

	start := time.Now()
	resp, err := s.client.Search(ctx, s.index, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := cerrors.As(err); !ok {
			err = cerrors.New(cerrors.ErrCodeSearchFailed, "search request failed", err).
				WithDetail("index", s.index)
		}
		s.logger.Error("search_failed",
			append([]any{slog.String("mode", string(mode))}, cerrors.FormatForLog(err)...)...)
		s.record(mode, term, 0, time.Since(start), true)
		return nil, err
	}

	results, skipped := project(resp.Hits)
	s.record(mode, term, len(results), time.Since(start), false)
	s.logger.Info("search_complete",
		slog.String("mode", string(mode)),
		slog.String("index", s.index),
		slog.Int("hits", len(resp.Hits)),
		slog.Int("results", len(results)),
		slog.Int("skipped", skipped),
		slog.Duration("engine_took", resp.Took),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func (s *Service) record(mode Mode, term string, results int, latency time.Duration, failed bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.Record(telemetry.QueryEvent{
		Mode:    string(mode),
		Term:    term,
		Results: results,
		Latency: latency,
		Failed:  failed,
	})
}

// project maps hits to results in engine order. Hits without a stored
// document are dropped.
func project(hits []engine.Hit) ([]document.QueryResult, int) {
	results := make([]document.QueryResult, 0, len(hits))
	skipped := 0
	for _, h := range hits {
		if h.Source == nil {
			skipped++
			continue
		}
		results = append(results, document.NewQueryResult(*h.Source))
	}
	return results, skipped
}
