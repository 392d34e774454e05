package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/document"
)

func TestComposer_HybridHasFiveClauses(t *testing.T) {
	c := NewComposer(Settings{})

	for _, term := range []string{"x", "", "  ", "admissions & fees", "日本語"} {
		t.Run(term, func(t *testing.T) {
			req := c.Hybrid(term)

			clauses := req.Clauses()
			require.Len(t, clauses, 5)

			var matches, neurals int
			for _, cl := range clauses {
				switch v := cl.(type) {
				case Match:
					matches++
					assert.Equal(t, term, v.Query)
				case Neural:
					neurals++
					assert.Equal(t, term, v.QueryText)
					assert.Equal(t, DefaultK, v.K)
				}
			}
			assert.Equal(t, 3, matches)
			assert.Equal(t, 2, neurals)
		})
	}
}

func TestComposer_HybridFieldsAndBounds(t *testing.T) {
	// Given a composer with a model id
	c := NewComposer(Settings{ModelID: "model-1"})

	// When building a hybrid request
	req := c.Hybrid("library")

	// Then the clauses cover content, url, title and both embeddings in order
	clauses := req.Clauses()
	assert.Equal(t, Match{Field: document.FieldContent, Query: "library"}, clauses[0])
	assert.Equal(t, Match{Field: document.FieldURL, Query: "library"}, clauses[1])
	assert.Equal(t, Match{Field: document.FieldTitle, Query: "library"}, clauses[2])
	assert.Equal(t, Neural{Field: document.FieldContentEmbedding, QueryText: "library", ModelID: "model-1", K: 100}, clauses[3])
	assert.Equal(t, Neural{Field: document.FieldTitleEmbedding, QueryText: "library", ModelID: "model-1", K: 100}, clauses[4])

	// And the request is bounded
	assert.Equal(t, 500, req.Size)
	assert.Equal(t, 1000, req.TerminateAfter)
	assert.Equal(t, KindHybrid, req.Query.Kind())
}

func TestComposer_MoreLikeThis(t *testing.T) {
	c := NewComposer(Settings{})

	req := c.MoreLikeThis("campus housing")

	mlt, ok := req.Query.(MoreLikeThis)
	require.True(t, ok)
	assert.Equal(t, []string{"title", "content", "url", "category"}, mlt.Fields)
	assert.Equal(t, "campus housing", mlt.Like)
	assert.Equal(t, 1, mlt.MinTermFreq)
	assert.Equal(t, 15, mlt.MaxQueryTerms)
	assert.Equal(t, 10, req.Size)
	assert.Equal(t, 1000, req.TerminateAfter)
	assert.Len(t, req.Clauses(), 1)
}

func TestComposer_MoreLikeThisFieldsAreCopied(t *testing.T) {
	c := NewComposer(Settings{})

	req := c.MoreLikeThis("a")
	req.Query.(MoreLikeThis).Fields[0] = "mutated"

	assert.Equal(t, document.FieldTitle, document.TextFields[0])
}

func TestNewComposer_Overrides(t *testing.T) {
	c := NewComposer(Settings{K: 7, HybridSize: 20, MLTSize: 3, MLTMaxQueryTerms: 4})

	s := c.Settings()
	assert.Equal(t, 7, s.K)
	assert.Equal(t, 20, s.HybridSize)
	assert.Equal(t, 3, s.MLTSize)
	assert.Equal(t, 4, s.MLTMaxQueryTerms)
	assert.Equal(t, DefaultTerminateAfter, s.TerminateAfter)
	assert.Equal(t, DefaultMLTMinTermFreq, s.MLTMinTermFreq)
}

func TestRequest_MarshalHybrid(t *testing.T) {
	// Given a hybrid request
	req := NewComposer(Settings{ModelID: "m1"}).Hybrid("fees")

	// When rendered
	data, err := json.Marshal(req)
	require.NoError(t, err)

	// Then it is OpenSearch hybrid query DSL
	want := `{
		"size": 500,
		"terminate_after": 1000,
		"query": {"hybrid": {"queries": [
			{"match": {"content": {"query": "fees"}}},
			{"match": {"url": {"query": "fees"}}},
			{"match": {"title": {"query": "fees"}}},
			{"neural": {"content_embedding": {"query_text": "fees", "model_id": "m1", "k": 100}}},
			{"neural": {"title_embedding": {"query_text": "fees", "model_id": "m1", "k": 100}}}
		]}}
	}`
	assert.JSONEq(t, want, string(data))
}

func TestRequest_MarshalNeuralWithoutModel(t *testing.T) {
	data, err := json.Marshal(Neural{Field: "title_embedding", QueryText: "q", K: 5})
	require.NoError(t, err)

	assert.JSONEq(t, `{"neural":{"title_embedding":{"query_text":"q","k":5}}}`, string(data))
}

func TestRequest_MarshalMoreLikeThis(t *testing.T) {
	req := NewComposer(Settings{}).MoreLikeThis("open day")

	data, err := json.Marshal(req)
	require.NoError(t, err)

	want := `{
		"size": 10,
		"terminate_after": 1000,
		"query": {"more_like_this": {
			"fields": ["title", "content", "url", "category"],
			"like": "open day",
			"min_term_freq": 1,
			"max_query_terms": 15
		}}
	}`
	assert.JSONEq(t, want, string(data))
}

func TestRequest_MarshalEmptyHybrid(t *testing.T) {
	data, err := json.Marshal(&Request{Query: Hybrid{}, Size: 1})
	require.NoError(t, err)

	assert.JSONEq(t, `{"size":1,"query":{"hybrid":{"queries":[]}}}`, string(data))
}

func TestRequest_MarshalWithoutClauseFails(t *testing.T) {
	_, err := json.Marshal(&Request{Size: 1})
	require.Error(t, err)
}

func TestRequest_ClausesFlattensNestedHybrid(t *testing.T) {
	req := &Request{Query: Hybrid{Queries: []Clause{
		Match{Field: "title", Query: "a"},
		Hybrid{Queries: []Clause{Match{Field: "content", Query: "b"}}},
	}}}

	assert.Len(t, req.Clauses(), 2)
	assert.Nil(t, (&Request{}).Clauses())
}
