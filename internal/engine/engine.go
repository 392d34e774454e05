// Package engine defines the index engine client used by the ingestion job
// and the search service, together with its bulk and search wire types.
//
// Two implementations exist: engine/local embeds lexical and vector search in
// the process, and engine/opensearch talks to an OpenSearch cluster.
package engine

import (
	"context"
	"time"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/query"
)

// Client writes documents to and searches an index.
//
// A non-nil error from Bulk or Search means the request as a whole failed
// (engine unreachable, request rejected). Failures of individual bulk items
// are reported in BulkResponse instead. Implementations are safe for
// concurrent use.
type Client interface {
	Bulk(ctx context.Context, index string, ops []BulkOperation) (*BulkResponse, error)
	Search(ctx context.Context, index string, req *query.Request) (*SearchResponse, error)
	Close() error
}

// BulkOperation indexes Document under ID, replacing any existing document.
type BulkOperation struct {
	ID       string
	Document document.IndexRecord
}

// NewIndexOperation keys record by its derived document id.
func NewIndexOperation(record document.IndexRecord) BulkOperation {
	return BulkOperation{ID: record.ID(), Document: record}
}

// BulkResponse is the outcome of one bulk write.
type BulkResponse struct {
	// Took is the engine-reported processing time.
	Took time.Duration

	// Errors is true if at least one item failed.
	Errors bool

	// Items holds one result per operation, in request order.
	Items []BulkItem
}

// Failed returns the items that carry an error.
func (r *BulkResponse) Failed() []BulkItem {
	var out []BulkItem
	for _, it := range r.Items {
		if it.Error != nil {
			out = append(out, it)
		}
	}
	return out
}

// BulkItem is the result of one bulk operation.
type BulkItem struct {
	ID     string
	Status int
	Error  *ItemError
}

// ItemError describes why a single bulk item was rejected.
type ItemError struct {
	Type   string
	Reason string
}

// SearchResponse is the outcome of one search.
type SearchResponse struct {
	Took  time.Duration
	Total int
	Hits  []Hit
}

// Hit is one ranked search result. Source is nil when the engine returned no
// stored document for the hit.
type Hit struct {
	ID     string
	Score  float64
	Source *document.IndexRecord
}
