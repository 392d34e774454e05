// Package enginetest provides a scriptable engine.Client for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawldex/crawldex/internal/engine"
	"github.com/crawldex/crawldex/internal/query"
)

// BulkCall records one Bulk invocation.
type BulkCall struct {
	Index string
	Ops   []engine.BulkOperation
}

// SearchCall records one Search invocation.
type SearchCall struct {
	Index   string
	Request *query.Request
}

// Fake records calls and returns scripted results.
//
// BulkFunc and SearchFunc, when set, produce the result for each call. When
// unset, Bulk reports every item as created with Took and Search returns
// SearchResult.
type Fake struct {
	mu sync.Mutex

	BulkFunc   func(call int, index string, ops []engine.BulkOperation) (*engine.BulkResponse, error)
	SearchFunc func(index string, req *query.Request) (*engine.SearchResponse, error)

	Took         time.Duration
	SearchResult *engine.SearchResponse

	BulkCalls   []BulkCall
	SearchCalls []SearchCall
	Closed      bool
}

var _ engine.Client = (*Fake)(nil)

// Bulk implements engine.Client.
func (f *Fake) Bulk(ctx context.Context, index string, ops []engine.BulkOperation) (*engine.BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	call := len(f.BulkCalls)
	cp := make([]engine.BulkOperation, len(ops))
	copy(cp, ops)
	f.BulkCalls = append(f.BulkCalls, BulkCall{Index: index, Ops: cp})
	fn := f.BulkFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(call, index, ops)
	}
	return Created(ops, f.Took), nil
}

// Search implements engine.Client.
func (f *Fake) Search(ctx context.Context, index string, req *query.Request) (*engine.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.SearchCalls = append(f.SearchCalls, SearchCall{Index: index, Request: req})
	fn, result := f.SearchFunc, f.SearchResult
	f.mu.Unlock()

	if fn != nil {
		return fn(index, req)
	}
	if result == nil {
		return &engine.SearchResponse{}, nil
	}
	return result, nil
}

// Close implements engine.Client.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// BulkSizes returns the number of operations in each recorded Bulk call.
func (f *Fake) BulkSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.BulkCalls))
	for i, c := range f.BulkCalls {
		sizes[i] = len(c.Ops)
	}
	return sizes
}

// Created returns a response reporting every op as created.
func Created(ops []engine.BulkOperation, took time.Duration) *engine.BulkResponse {
	resp := &engine.BulkResponse{Took: took, Items: make([]engine.BulkItem, len(ops))}
	for i, op := range ops {
		resp.Items[i] = engine.BulkItem{ID: op.ID, Status: 201}
	}
	return resp
}

// WithItemErrors returns a response where the ops at the given positions
// failed with a mapper_parsing_exception.
func WithItemErrors(ops []engine.BulkOperation, took time.Duration, failed ...int) *engine.BulkResponse {
	resp := Created(ops, took)
	for _, i := range failed {
		resp.Errors = true
		resp.Items[i].Status = 400
		resp.Items[i].Error = &engine.ItemError{
			Type:   "mapper_parsing_exception",
			Reason: fmt.Sprintf("failed to parse document %d", i),
		}
	}
	return resp
}
