package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/pkg/docid"
)

func TestNewIndexRecord_Sentinels(t *testing.T) {
	r := NewIndexRecord()

	assert.Equal(t, Unknown, r.Title)
	assert.Equal(t, Unknown, r.Content)
	assert.Equal(t, Unknown, r.URL)
	assert.Equal(t, Unknown, r.Category)
	assert.Nil(t, r.ContentEmbedding)
	assert.Nil(t, r.TitleEmbedding)
}

func TestIndexRecord_SettersKeepSentinelOnEmpty(t *testing.T) {
	r := NewIndexRecord()

	r.SetTitle("")
	r.SetContent("")
	assert.Equal(t, Unknown, r.Title)
	assert.Equal(t, Unknown, r.Content)

	r.SetTitle("Home")
	r.SetContent("Welcome")
	assert.Equal(t, "Home", r.Title)
	assert.Equal(t, "Welcome", r.Content)
}

func TestIndexRecord_ID(t *testing.T) {
	r := NewIndexRecord()
	r.URL = "https://example.com/news"

	assert.Equal(t, docid.Encode(r.URL), r.ID())
	assert.Equal(t, "https---example-com-news", r.ID())
}

func TestIndexRecord_JSONShape(t *testing.T) {
	r := NewIndexRecord()
	r.URL = "https://example.com"

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "-", m["title"])
	assert.Equal(t, "https://example.com", m["url"])
	assert.NotContains(t, m, "content_embedding", "empty embeddings are omitted")
}

func TestIndexRecord_UnmarshalFillsSentinels(t *testing.T) {
	var r IndexRecord
	err := json.Unmarshal([]byte(`{"title":"T","content":null,"url":""}`), &r)
	require.NoError(t, err)

	assert.Equal(t, "T", r.Title)
	assert.Equal(t, Unknown, r.Content)
	assert.Equal(t, Unknown, r.URL)
	assert.Equal(t, Unknown, r.Category)
}

func TestQueryResult_IDFollowsURL(t *testing.T) {
	src := NewIndexRecord()
	src.URL = "https://a.example/x"
	res := NewQueryResult(src)
	assert.Equal(t, docid.Encode("https://a.example/x"), res.ID())

	// When: the URL changes, the id is re-derived
	res.URL = "https://b.example/y?z=1"
	assert.Equal(t, docid.Encode(res.URL), res.ID())
	assert.Equal(t, "https---b-example-y-z-1", res.ID())
}

func TestQueryResult_JSONRoundTripRecomputesID(t *testing.T) {
	data := []byte(`{"title":"t","content":"c","url":"https://x.org/p","category":"news","id":"stale"}`)

	var res QueryResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "https---x-org-p", res.ID())

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"t","content":"c","url":"https://x.org/p","category":"news","id":"https---x-org-p"}`, string(out))
}

func TestQueryResult_MarshalEmptyFieldsAsUnknown(t *testing.T) {
	out, err := json.Marshal(QueryResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"-","content":"-","url":"-","category":"-","id":"-"}`, string(out))
}
