package document

import (
	"encoding/json"

	"github.com/crawldex/crawldex/pkg/docid"
)

// QueryResult is the client-facing projection of one search hit.
//
// The id is never stored: ID derives it from URL on every call, so the two
// cannot drift apart when URL changes.
type QueryResult struct {
	Title    string
	Content  string
	URL      string
	Category string
}

// NewQueryResult projects a stored document into a result.
func NewQueryResult(src IndexRecord) QueryResult {
	return QueryResult{
		Title:    src.Title,
		Content:  src.Content,
		URL:      src.URL,
		Category: src.Category,
	}
}

// ID returns the document id derived from URL.
func (q QueryResult) ID() string {
	return docid.Encode(orUnknown(q.URL))
}

type queryResultJSON struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Category string `json:"category"`
	ID       string `json:"id"`
}

// MarshalJSON renders the result in the shape served to clients.
func (q QueryResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(queryResultJSON{
		Title:    orUnknown(q.Title),
		Content:  orUnknown(q.Content),
		URL:      orUnknown(q.URL),
		Category: orUnknown(q.Category),
		ID:       q.ID(),
	})
}

// UnmarshalJSON decodes a served result. The id on the wire is ignored; it is
// always recomputed from the URL.
func (q *QueryResult) UnmarshalJSON(data []byte) error {
	var raw queryResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = QueryResult{
		Title:    raw.Title,
		Content:  raw.Content,
		URL:      raw.URL,
		Category: raw.Category,
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
