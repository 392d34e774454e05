package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	"github.com/crawldex/crawldex/internal/engine/enginetest"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
	"github.com/crawldex/crawldex/internal/telemetry"
	"github.com/crawldex/crawldex/pkg/docid"
)

func record(title, url, category string) *document.IndexRecord {
	r := document.NewIndexRecord()
	r.Title = title
	r.Content = title + " body"
	r.URL = url
	r.Category = category
	return &r
}

func newTestService(t *testing.T, fake *enginetest.Fake) *Service {
	t.Helper()
	svc, err := New(fake, Options{
		Index:  "crawl-data",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return svc
}

func TestService_SearchProjectsHitsInEngineOrder(t *testing.T) {
	// Given an engine returning hits with ascending scores
	fake := &enginetest.Fake{SearchResult: &engine.SearchResponse{Hits: []engine.Hit{
		{ID: "x", Score: 0.1, Source: record("Fees", "https://uni.edu/fees", "finance")},
		{ID: "y", Score: 0.9, Source: record("Loans", "https://uni.edu/loans", "finance")},
	}}}
	svc := newTestService(t, fake)

	// When searching
	results, err := svc.Search(context.Background(), "tuition")
	require.NoError(t, err)

	// Then order is not changed and every field is copied
	require.Len(t, results, 2)
	assert.Equal(t, "Fees", results[0].Title)
	assert.Equal(t, "Fees body", results[0].Content)
	assert.Equal(t, "finance", results[0].Category)
	assert.Equal(t, "https://uni.edu/loans", results[1].URL)
}

func TestService_ResultIDMatchesEncodedURL(t *testing.T) {
	fake := &enginetest.Fake{SearchResult: &engine.SearchResponse{Hits: []engine.Hit{
		{ID: "stale-id", Source: record("A", "https://uni.edu/a b?c", "x")},
		{ID: "", Source: record("B", document.Unknown, "x")},
	}}}
	svc := newTestService(t, fake)

	results, err := svc.Search(context.Background(), "a")
	require.NoError(t, err)

	for _, r := range results {
		assert.Equal(t, docid.Encode(r.URL), r.ID())
	}
}

func TestService_SkipsHitsWithoutSource(t *testing.T) {
	fake := &enginetest.Fake{SearchResult: &engine.SearchResponse{Hits: []engine.Hit{
		{ID: "gone"},
		{ID: "kept", Source: record("Kept", "https://uni.edu/kept", "x")},
		{ID: "gone-too"},
	}}}
	svc := newTestService(t, fake)

	results, err := svc.Similar(context.Background(), "kept")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Kept", results[0].Title)
}

func TestService_NoHitsIsEmptyNotNil(t *testing.T) {
	svc := newTestService(t, &enginetest.Fake{})

	results, err := svc.Search(context.Background(), "nothing")

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestService_DispatchesComposedRequests(t *testing.T) {
	// Given a service with a model id
	fake := &enginetest.Fake{}
	svc, err := New(fake, Options{
		Index:    "crawl-data",
		Composer: query.NewComposer(query.Settings{ModelID: "m-7"}),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	// When running both kinds of search
	_, err = svc.Search(context.Background(), "housing")
	require.NoError(t, err)
	_, err = svc.Similar(context.Background(), "housing")
	require.NoError(t, err)

	// Then one request per call went to the configured index
	require.Len(t, fake.SearchCalls, 2)
	hybrid := fake.SearchCalls[0]
	assert.Equal(t, "crawl-data", hybrid.Index)
	assert.Equal(t, query.KindHybrid, hybrid.Request.Query.Kind())
	assert.Equal(t, query.DefaultHybridSize, hybrid.Request.Size)
	assert.Len(t, hybrid.Request.Clauses(), 5)
	neural, ok := hybrid.Request.Clauses()[3].(query.Neural)
	require.True(t, ok)
	assert.Equal(t, "m-7", neural.ModelID)

	mlt := fake.SearchCalls[1].Request
	assert.Equal(t, query.KindMoreLikeThis, mlt.Query.Kind())
	assert.Equal(t, query.DefaultMLTSize, mlt.Size)
	assert.Equal(t, "housing", mlt.Query.(query.MoreLikeThis).Like)
}

func TestService_EmptyTermIsValidationError(t *testing.T) {
	fake := &enginetest.Fake{}
	svc := newTestService(t, fake)

	_, err := svc.Search(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeMissingParameter, cerrors.GetCode(err))

	_, err = svc.Similar(context.Background(), "")
	require.Error(t, err)
	assert.Empty(t, fake.SearchCalls)
}

func TestService_EngineFailureIsTransport(t *testing.T) {
	// Given an engine that cannot be reached
	fake := &enginetest.Fake{SearchFunc: func(string, *query.Request) (*engine.SearchResponse, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	svc := newTestService(t, fake)

	// When searching
	_, err := svc.Search(context.Background(), "x")

	// Then the failure keeps its transport classification
	require.Error(t, err)
	assert.True(t, cerrors.IsTransport(err))
	assert.Equal(t, cerrors.ErrCodeSearchFailed, cerrors.GetCode(err))
}

func TestService_StructuredEngineErrorPassesThrough(t *testing.T) {
	want := cerrors.New(cerrors.ErrCodeInvalidQuery, "bad field", nil)
	fake := &enginetest.Fake{SearchFunc: func(string, *query.Request) (*engine.SearchResponse, error) {
		return nil, want
	}}
	svc := newTestService(t, fake)

	_, err := svc.Similar(context.Background(), "x")

	assert.ErrorIs(t, err, want)
}

func TestService_CancelledContext(t *testing.T) {
	svc := newTestService(t, &enginetest.Fake{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Search(ctx, "x")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ConcurrentCalls(t *testing.T) {
	fake := &enginetest.Fake{SearchResult: &engine.SearchResponse{Hits: []engine.Hit{
		{ID: "a", Source: record("A", "https://uni.edu/a", "x")},
	}}}
	svc := newTestService(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var results []document.QueryResult
			var err error
			if i%2 == 0 {
				results, err = svc.Search(context.Background(), "a")
			} else {
				results, err = svc.Similar(context.Background(), "a")
			}
			assert.NoError(t, err)
			assert.Len(t, results, 1)
		}(i)
	}
	wg.Wait()

	assert.Len(t, fake.SearchCalls, 16)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{Index: "x"})
	assert.Equal(t, cerrors.ErrCodeInternal, cerrors.GetCode(err))

	_, err = New(&enginetest.Fake{}, Options{})
	assert.Equal(t, cerrors.ErrCodeMissingParameter, cerrors.GetCode(err))
}

func TestService_RecordsMetrics(t *testing.T) {
	// Given a service reporting into a metrics collector
	calls := 0
	fake := &enginetest.Fake{SearchFunc: func(string, *query.Request) (*engine.SearchResponse, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("connection reset")
		}
		return &engine.SearchResponse{}, nil
	}}
	metrics := telemetry.NewQueryMetrics(telemetry.Config{})
	svc, err := New(fake, Options{
		Index:   "crawl-data",
		Metrics: metrics,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	// When running two successful queries, one failing and one invalid
	_, _ = svc.Search(context.Background(), "fees")
	_, _ = svc.Similar(context.Background(), "housing")
	_, _ = svc.Search(context.Background(), "fees")
	_, _ = svc.Search(context.Background(), "")

	// Then only dispatched queries are counted
	s := metrics.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(1), s.FailedQueries)
	assert.Equal(t, map[string]int64{"hybrid": 2, "similar": 1}, s.ModeCounts)
	assert.Equal(t, []string{"fees", "housing"}, s.ZeroResultQueries)
}
