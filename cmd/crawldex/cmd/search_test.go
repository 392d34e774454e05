package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	"github.com/crawldex/crawldex/internal/engine/enginetest"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
)

func fakeWithHits() *enginetest.Fake {
	fees := document.NewIndexRecord()
	fees.Title = "Fees"
	fees.Content = "Tuition is due in May"
	fees.URL = "https://uni.edu/fees"
	fees.Category = "finance"
	return &enginetest.Fake{SearchResult: &engine.SearchResponse{Hits: []engine.Hit{
		{ID: "https---uni-edu-fees", Score: 1, Source: &fees},
		{ID: "orphan", Score: 0.5},
	}}}
}

func TestSearchCmd_TextOutput(t *testing.T) {
	// Given an engine with one stored hit
	env := newTestEnv(t, "")
	fake := fakeWithHits()
	useEngine(t, fake)

	// When searching with several words
	stdout, _, err := execute(t, "--config", env.config, "search", "tuition", "fees")
	require.NoError(t, err)

	// Then the words form one hybrid term and the hit is listed
	require.Len(t, fake.SearchCalls, 1)
	req := fake.SearchCalls[0].Request
	assert.Equal(t, query.KindHybrid, req.Query.Kind())
	match, ok := req.Clauses()[0].(query.Match)
	require.True(t, ok)
	assert.Equal(t, "tuition fees", match.Query)
	assert.Contains(t, stdout, "1. Fees [finance]")
	assert.Contains(t, stdout, "id: https---uni-edu-fees")
}

func TestSimilarCmd_JSONOutput(t *testing.T) {
	env := newTestEnv(t, "")
	fake := fakeWithHits()
	useEngine(t, fake)

	stdout, _, err := execute(t, "--config", env.config, "similar", "scholarship deadline", "--format", "json")
	require.NoError(t, err)

	assert.Equal(t, query.KindMoreLikeThis, fake.SearchCalls[0].Request.Query.Kind())
	var results []map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "https---uni-edu-fees", results[0]["id"])
}

func TestSearchCmd_NoResultsJSONIsEmptyArray(t *testing.T) {
	env := newTestEnv(t, "")
	useEngine(t, &enginetest.Fake{})

	stdout, _, err := execute(t, "--config", env.config, "search", "nothing", "-f", "json")

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, stdout)
}

func TestSearchCmd_EngineFailure(t *testing.T) {
	env := newTestEnv(t, "")
	useEngine(t, &enginetest.Fake{SearchFunc: func(string, *query.Request) (*engine.SearchResponse, error) {
		return nil, errors.New("connection refused")
	}})

	_, _, err := execute(t, "--config", env.config, "search", "x")

	require.Error(t, err)
	assert.True(t, cerrors.IsTransport(err))
}

func TestSearchCmd_UnknownFormat(t *testing.T) {
	env := newTestEnv(t, "")
	useEngine(t, &enginetest.Fake{})

	_, _, err := execute(t, "--config", env.config, "search", "x", "--format", "xml")

	assert.ErrorContains(t, err, "unknown format")
}

func TestSearchCmd_LocalBackendEndToEnd(t *testing.T) {
	// Given an on-disk local engine filled by parse
	env := newTestEnv(t, "engine:\n  data_dir: "+t.TempDir()+"\n")
	env.write(t, "site/finance/aid/fees.md", "# Fees\n\nTuition fees are due in May.\n")
	env.write(t, "site/housing/dorms/rooms.md", "# Rooms\n\nDormitory rooms and meal plans.\n")
	_, _, err := execute(t, "--config", env.config, "parse", env.dir+"/site", "--bulk")
	require.NoError(t, err)

	// When searching in a new process-equivalent command
	stdout, _, err := execute(t, "--config", env.config, "search", "tuition", "-f", "json")
	require.NoError(t, err)

	// Then the matching page ranks first
	var results []map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "Fees", results[0]["title"])
	assert.Equal(t, "finance", results[0]["category"])
}

func TestOpenEngine_SelectsBackend(t *testing.T) {
	env := newTestEnv(t, "")
	flags := &globalFlags{configPath: env.config}
	cfg, err := flags.loadConfig()
	require.NoError(t, err)

	client, err := openEngine(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, isLocal := client.(*localBackend)
	assert.True(t, isLocal)
	require.NoError(t, client.Close())

	cfg.Engine.Backend = "opensearch"
	cfg.Engine.Addresses = []string{"http://127.0.0.1:9200"}
	client, err = openEngine(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, isLocal = client.(*localBackend)
	assert.False(t, isLocal)
}
