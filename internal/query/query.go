// Package query defines the engine-neutral search request model and renders
// it as OpenSearch query DSL.
//
// Engines that speak OpenSearch post the rendered JSON verbatim. The embedded
// engine interprets the clause values directly.
package query

import (
	"encoding/json"
	"fmt"
)

// Kind names a clause type. The value is the clause key in query DSL.
type Kind string

const (
	KindMatch        Kind = "match"
	KindNeural       Kind = "neural"
	KindHybrid       Kind = "hybrid"
	KindMoreLikeThis Kind = "more_like_this"
)

// Clause is one node of a query tree.
type Clause interface {
	Kind() Kind
}

// Match is a full-text match of Query against a single field.
type Match struct {
	Field string
	Query string
}

// Kind implements Clause.
func (Match) Kind() Kind { return KindMatch }

// MarshalJSON renders {"match":{"<field>":{"query":"..."}}}.
func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		string(KindMatch): map[string]any{
			m.Field: map[string]string{"query": m.Query},
		},
	})
}

// Neural is a nearest-neighbor clause. The engine embeds QueryText with its
// configured model and returns the K closest vectors stored in Field.
type Neural struct {
	Field     string
	QueryText string
	ModelID   string
	K         int
}

// Kind implements Clause.
func (Neural) Kind() Kind { return KindNeural }

type neuralBody struct {
	QueryText string `json:"query_text"`
	ModelID   string `json:"model_id,omitempty"`
	K         int    `json:"k"`
}

// MarshalJSON renders {"neural":{"<field>":{"query_text":...,"model_id":...,"k":...}}}.
func (n Neural) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		string(KindNeural): map[string]neuralBody{
			n.Field: {QueryText: n.QueryText, ModelID: n.ModelID, K: n.K},
		},
	})
}

// Hybrid evaluates every sub-query and lets the engine merge the result
// lists.
type Hybrid struct {
	Queries []Clause
}

// Kind implements Clause.
func (Hybrid) Kind() Kind { return KindHybrid }

// MarshalJSON renders {"hybrid":{"queries":[...]}}.
func (h Hybrid) MarshalJSON() ([]byte, error) {
	queries := h.Queries
	if queries == nil {
		queries = []Clause{}
	}
	return json.Marshal(map[string]any{
		string(KindHybrid): map[string]any{"queries": queries},
	})
}

// MoreLikeThis finds documents similar to the Like text. At most
// MaxQueryTerms terms occurring at least MinTermFreq times in Like are used.
type MoreLikeThis struct {
	Fields        []string
	Like          string
	MinTermFreq   int
	MaxQueryTerms int
}

// Kind implements Clause.
func (MoreLikeThis) Kind() Kind { return KindMoreLikeThis }

type moreLikeThisBody struct {
	Fields        []string `json:"fields"`
	Like          string   `json:"like"`
	MinTermFreq   int      `json:"min_term_freq"`
	MaxQueryTerms int      `json:"max_query_terms"`
}

// MarshalJSON renders {"more_like_this":{...}}.
func (m MoreLikeThis) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]moreLikeThisBody{
		string(KindMoreLikeThis): {
			Fields:        m.Fields,
			Like:          m.Like,
			MinTermFreq:   m.MinTermFreq,
			MaxQueryTerms: m.MaxQueryTerms,
		},
	})
}

// Request is one search request.
type Request struct {
	Query Clause

	// Size is the maximum number of hits returned.
	Size int

	// TerminateAfter caps the number of documents each shard, or each
	// clause in the embedded engine, examines.
	TerminateAfter int
}

type requestBody struct {
	Size           int    `json:"size"`
	TerminateAfter int    `json:"terminate_after,omitempty"`
	Query          Clause `json:"query"`
}

// MarshalJSON renders the request as an OpenSearch search body.
func (r *Request) MarshalJSON() ([]byte, error) {
	if r.Query == nil {
		return nil, fmt.Errorf("query request has no clause")
	}
	return json.Marshal(requestBody{
		Size:           r.Size,
		TerminateAfter: r.TerminateAfter,
		Query:          r.Query,
	})
}

// Clauses returns the leaf clauses of the request in evaluation order.
func (r *Request) Clauses() []Clause {
	return leaves(r.Query)
}

func leaves(c Clause) []Clause {
	if c == nil {
		return nil
	}
	h, ok := c.(Hybrid)
	if !ok {
		return []Clause{c}
	}
	var out []Clause
	for _, q := range h.Queries {
		out = append(out, leaves(q)...)
	}
	return out
}
