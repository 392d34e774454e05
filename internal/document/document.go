// Package document defines the write-side IndexRecord and the read-side
// QueryResult exchanged between the ingestion job, the index engine and the
// search service.
package document

import (
	"encoding/json"
	"fmt"

	"github.com/crawldex/crawldex/pkg/docid"
)

// Unknown is stored in place of any text field whose value is not known.
// Clients rely on every field being present, so absence is never serialized
// as null or an empty string.
const Unknown = "-"

// Engine field names. These are the names used in stored documents and in
// query clauses.
const (
	FieldTitle            = "title"
	FieldContent          = "content"
	FieldURL              = "url"
	FieldCategory         = "category"
	FieldContentEmbedding = "content_embedding"
	FieldTitleEmbedding   = "title_embedding"
)

// TextFields lists the stored text fields in the order used by similarity
// queries.
var TextFields = []string{FieldTitle, FieldContent, FieldURL, FieldCategory}

// IndexRecord is one crawled page ready to be written to the index.
type IndexRecord struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Category string `json:"category"`

	// Embeddings are opaque to this system; they are populated by the
	// engine's embedding step or carried through verbatim when present.
	ContentEmbedding []string `json:"content_embedding,omitempty"`
	TitleEmbedding   []string `json:"title_embedding,omitempty"`
}

// NewIndexRecord returns a record with every text field set to Unknown.
func NewIndexRecord() IndexRecord {
	return IndexRecord{
		Title:    Unknown,
		Content:  Unknown,
		URL:      Unknown,
		Category: Unknown,
	}
}

// ID returns the engine document id for the record.
func (r IndexRecord) ID() string {
	return docid.Encode(r.URL)
}

// SetTitle stores title unless it is empty.
func (r *IndexRecord) SetTitle(title string) {
	if title != "" {
		r.Title = title
	}
}

// SetContent stores content unless it is empty.
func (r *IndexRecord) SetContent(content string) {
	if content != "" {
		r.Content = content
	}
}

// UnmarshalJSON decodes a stored document. Fields that are missing, null or
// empty decode to Unknown.
func (r *IndexRecord) UnmarshalJSON(data []byte) error {
	type plain IndexRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode index record: %w", err)
	}
	*r = IndexRecord(p)
	r.normalize()
	return nil
}

func (r *IndexRecord) normalize() {
	for _, f := range []*string{&r.Title, &r.Content, &r.URL, &r.Category} {
		if *f == "" {
			*f = Unknown
		}
	}
}

func (r IndexRecord) String() string {
	return fmt.Sprintf("IndexRecord{title=%q, url=%q, category=%q, content=%d bytes}",
		r.Title, r.URL, r.Category, len(r.Content))
}
