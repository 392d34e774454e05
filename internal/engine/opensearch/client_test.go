package opensearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
)

// fakeCluster records requests and replies with canned bodies.
type fakeCluster struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

type recorded struct {
	Method string
	Path   string
	Body   []byte
	User   string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, _, _ := r.BasicAuth()
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Body: body, User: user})
	status, reply := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func (f *fakeCluster) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, fc *fakeCluster) *Client {
	t.Helper()
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Addresses: []string{srv.URL},
		Username:  "indexer",
		Password:  "secret",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func testOps() []engine.BulkOperation {
	a := document.NewIndexRecord()
	a.Title = "Home"
	a.URL = "https://example.com"
	b := document.NewIndexRecord()
	b.URL = "https://example.com/about"
	return []engine.BulkOperation{engine.NewIndexOperation(a), engine.NewIndexOperation(b)}
}

func TestClient_BulkSendsNDJSON(t *testing.T) {
	// Given a cluster that accepts both items
	fc := &fakeCluster{body: `{"took":30,"errors":false,"items":[
		{"index":{"_index":"crawl-data","_id":"https---example-com","status":201,"result":"created"}},
		{"index":{"_index":"crawl-data","_id":"https---example-com-about","status":200,"result":"updated"}}]}`}
	c := newTestClient(t, fc)

	// When writing two records
	resp, err := c.Bulk(context.Background(), "crawl-data", testOps())
	require.NoError(t, err)

	// Then the request is an NDJSON bulk against the index
	req := fc.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/crawl-data/_bulk", req.Path)
	assert.Equal(t, "indexer", req.User)

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(req.Body))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"index":{"_id":"https---example-com"}}`, lines[0])
	assert.JSONEq(t, `{"title":"Home","content":"-","url":"https://example.com","category":"-"}`, lines[1])
	assert.JSONEq(t, `{"index":{"_id":"https---example-com-about"}}`, lines[2])

	// And the response maps onto engine items
	assert.Equal(t, 30*time.Millisecond, resp.Took)
	assert.False(t, resp.Errors)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 201, resp.Items[0].Status)
	assert.Equal(t, "https---example-com-about", resp.Items[1].ID)
	assert.Nil(t, resp.Items[1].Error)
}

func TestClient_BulkItemErrors(t *testing.T) {
	fc := &fakeCluster{body: `{"took":4,"errors":true,"items":[
		{"index":{"_id":"a","status":201}},
		{"index":{"_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [content]"}}}]}`}
	c := newTestClient(t, fc)

	resp, err := c.Bulk(context.Background(), "crawl-data", testOps())

	require.NoError(t, err)
	assert.True(t, resp.Errors)
	failed := resp.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
	assert.Equal(t, "mapper_parsing_exception", failed[0].Error.Type)
	assert.Equal(t, "failed to parse field [content]", failed[0].Error.Reason)
}

func TestClient_BulkTransportFailure(t *testing.T) {
	fc := &fakeCluster{status: http.StatusServiceUnavailable, body: `{"error":{"type":"unavailable","reason":"cluster down"},"status":503}`}
	c := newTestClient(t, fc)

	_, err := c.Bulk(context.Background(), "crawl-data", testOps())

	require.Error(t, err)
	assert.True(t, cerrors.IsTransport(err))
	assert.Len(t, fc.requests, 1)
}

func TestClient_BulkUnreachable(t *testing.T) {
	c, err := New(Config{Addresses: []string{"http://127.0.0.1:1"}})
	require.NoError(t, err)

	_, err = c.Bulk(context.Background(), "crawl-data", testOps())

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeEngineUnavailable, cerrors.GetCode(err))
}

func TestClient_BulkEmpty(t *testing.T) {
	fc := &fakeCluster{}
	c := newTestClient(t, fc)

	resp, err := c.Bulk(context.Background(), "crawl-data", nil)

	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Empty(t, fc.requests)
}

func TestClient_SearchPostsComposedBody(t *testing.T) {
	// Given a cluster returning two hits, one without a stored source
	fc := &fakeCluster{body: `{"took":12,"timed_out":false,"hits":{"total":{"value":2,"relation":"eq"},"max_score":1.5,"hits":[
		{"_index":"crawl-data","_id":"https---example-com","_score":1.5,"_source":{"title":"Home","content":"Welcome","url":"https://example.com","category":"main","content_embedding":[0.1,0.2]}},
		{"_index":"crawl-data","_id":"orphan","_score":0.5}]}}`}
	c := newTestClient(t, fc)
	req := query.NewComposer(query.Settings{ModelID: "m-1"}).Hybrid("welcome")

	// When searching
	resp, err := c.Search(context.Background(), "crawl-data", req)
	require.NoError(t, err)

	// Then the body is the rendered request
	sent := fc.last(t)
	assert.Equal(t, "/crawl-data/_search", sent.Path)
	want, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(sent.Body))

	// And hits keep engine order with decoded sources
	assert.Equal(t, 12*time.Millisecond, resp.Took)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Hits, 2)
	require.NotNil(t, resp.Hits[0].Source)
	assert.Equal(t, "Home", resp.Hits[0].Source.Title)
	assert.Equal(t, "main", resp.Hits[0].Source.Category)
	assert.InDelta(t, 1.5, resp.Hits[0].Score, 1e-6)
	assert.Nil(t, resp.Hits[1].Source)
}

func TestClient_SearchFailure(t *testing.T) {
	fc := &fakeCluster{status: http.StatusBadRequest, body: `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"},"status":400}`}
	c := newTestClient(t, fc)

	_, err := c.Search(context.Background(), "crawl-data", query.NewComposer(query.Settings{}).MoreLikeThis("x"))

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeSearchFailed, cerrors.GetCode(err))
}

func TestClient_SearchRequiresQuery(t *testing.T) {
	c := newTestClient(t, &fakeCluster{})

	_, err := c.Search(context.Background(), "crawl-data", &query.Request{})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeInvalidQuery, cerrors.GetCode(err))
}

func TestNew_RequiresAddresses(t *testing.T) {
	_, err := New(Config{})

	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeConfigInvalid, cerrors.GetCode(err))
}

func TestDecodeSource(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantNil bool
		want    document.IndexRecord
	}{
		{"absent", "", true, document.IndexRecord{}},
		{"null", "null", true, document.IndexRecord{}},
		{"partial fields get sentinels", `{"url":"https://x"}`, false, func() document.IndexRecord {
			r := document.NewIndexRecord()
			r.URL = "https://x"
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSource(json.RawMessage(tt.raw))
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}

	_, err := decodeSource(json.RawMessage(`{"title":`))
	assert.Error(t, err)
}
