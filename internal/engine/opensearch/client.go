// Package opensearch implements engine.Client against an OpenSearch cluster.
//
// Bulk writes are sent as NDJSON index actions. Search requests post the
// query DSL rendered by query.Request verbatim; neural clauses rely on the
// cluster's ML model and ingest pipeline for the embedding fields.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
	"github.com/crawldex/crawldex/pkg/version"
)

// Config holds the cluster connection settings.
type Config struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool

	// Timeout bounds a single HTTP round trip. Zero means no timeout beyond
	// the caller's context.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client talks to OpenSearch through opensearchapi.
type Client struct {
	api    *opensearchapi.Client
	logger *slog.Logger
}

var _ engine.Client = (*Client)(nil)

// New creates a client. No request is sent until the first Bulk or Search.
func New(cfg Config) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, cerrors.ConfigError("engine.addresses is required for the opensearch backend", nil).
			WithSuggestion("Set engine.addresses or CRAWLDEX_ENGINE_ADDRESSES, e.g. https://localhost:9200")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	api, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:    cfg.Addresses,
			Username:     cfg.Username,
			Password:     cfg.Password,
			Transport:    transport,
			Header:       http.Header{"User-Agent": []string{version.UserAgent()}},
			DisableRetry: true,
		},
	})
	if err != nil {
		return nil, cerrors.ConfigError("create opensearch client", err)
	}
	return &Client{api: api, logger: logger}, nil
}

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	ID string `json:"_id"`
}

// renderBulk renders ops as NDJSON index actions.
func renderBulk(ops []engine.BulkOperation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if err := enc.Encode(bulkAction{Index: bulkMeta{ID: op.ID}}); err != nil {
			return nil, fmt.Errorf("encode action for %s: %w", op.ID, err)
		}
		if err := enc.Encode(op.Document); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", op.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// Bulk implements engine.Client.
func (c *Client) Bulk(ctx context.Context, index string, ops []engine.BulkOperation) (*engine.BulkResponse, error) {
	if len(ops) == 0 {
		return &engine.BulkResponse{}, nil
	}
	body, err := renderBulk(ops)
	if err != nil {
		return nil, cerrors.InternalError("render bulk body", err)
	}

	resp, err := c.api.Bulk(ctx, opensearchapi.BulkReq{
		Index: index,
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cerrors.TransportError("bulk request failed", err).WithDetail("index", index)
	}

	out := &engine.BulkResponse{
		Took:   time.Duration(resp.Took) * time.Millisecond,
		Errors: resp.Errors,
		Items:  make([]engine.BulkItem, 0, len(resp.Items)),
	}
	for _, entry := range resp.Items {
		// Each entry has one key, the action name.
		for _, it := range entry {
			item := engine.BulkItem{ID: it.ID, Status: it.Status}
			if it.Error != nil {
				item.Error = &engine.ItemError{Type: it.Error.Type, Reason: it.Error.Reason}
			}
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

// Search implements engine.Client.
func (c *Client) Search(ctx context.Context, index string, req *query.Request) (*engine.SearchResponse, error) {
	if req == nil || req.Query == nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidQuery, "search request has no query", nil)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, cerrors.InternalError("render search body", err)
	}

	resp, err := c.api.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cerrors.New(cerrors.ErrCodeSearchFailed, "search request failed", err).
			WithDetail("index", index)
	}

	out := &engine.SearchResponse{
		Took:  time.Duration(resp.Took) * time.Millisecond,
		Total: resp.Hits.Total.Value,
		Hits:  make([]engine.Hit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		src, err := decodeSource(h.Source)
		if err != nil {
			c.logger.Warn("source_decode_failed",
				slog.String("id", h.ID),
				slog.String("error", err.Error()))
		}
		out.Hits = append(out.Hits, engine.Hit{ID: h.ID, Score: float64(h.Score), Source: src})
	}
	return out, nil
}

// storedSource is the text part of a stored document. Embedding fields are
// ignored; the cluster stores them as numbers.
type storedSource struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// decodeSource returns nil for an absent or undecodable _source.
func decodeSource(raw json.RawMessage) (*document.IndexRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var s storedSource
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	r := document.NewIndexRecord()
	r.SetTitle(s.Title)
	r.SetContent(s.Content)
	if s.URL != "" {
		r.URL = s.URL
	}
	if s.Category != "" {
		r.Category = s.Category
	}
	return &r, nil
}

// Close implements engine.Client. The HTTP transport needs no teardown.
func (c *Client) Close() error {
	return nil
}
