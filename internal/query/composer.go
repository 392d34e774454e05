package query

import "github.com/crawldex/crawldex/internal/document"

// Defaults for Settings.
const (
	DefaultK                = 100
	DefaultTerminateAfter   = 1000
	DefaultHybridSize       = 500
	DefaultMLTSize          = 10
	DefaultMLTMinTermFreq   = 1
	DefaultMLTMaxQueryTerms = 15
)

// LexicalFields are matched against the raw term by hybrid search.
var LexicalFields = []string{document.FieldContent, document.FieldURL, document.FieldTitle}

// VectorFields are searched by nearest neighbor in hybrid search.
var VectorFields = []string{document.FieldContentEmbedding, document.FieldTitleEmbedding}

// Settings tunes the composed requests.
type Settings struct {
	K                int
	TerminateAfter   int
	HybridSize       int
	MLTSize          int
	MLTMinTermFreq   int
	MLTMaxQueryTerms int

	// ModelID names the engine-side embedding model used by neural clauses.
	ModelID string
}

// DefaultSettings returns the standard request bounds.
func DefaultSettings() Settings {
	return Settings{
		K:                DefaultK,
		TerminateAfter:   DefaultTerminateAfter,
		HybridSize:       DefaultHybridSize,
		MLTSize:          DefaultMLTSize,
		MLTMinTermFreq:   DefaultMLTMinTermFreq,
		MLTMaxQueryTerms: DefaultMLTMaxQueryTerms,
	}
}

// Composer builds search requests from user terms. It does not validate
// terms; callers reject empty input.
type Composer struct {
	settings Settings
}

// NewComposer creates a Composer. Zero-valued settings take their defaults.
func NewComposer(s Settings) *Composer {
	d := DefaultSettings()
	if s.K <= 0 {
		s.K = d.K
	}
	if s.TerminateAfter <= 0 {
		s.TerminateAfter = d.TerminateAfter
	}
	if s.HybridSize <= 0 {
		s.HybridSize = d.HybridSize
	}
	if s.MLTSize <= 0 {
		s.MLTSize = d.MLTSize
	}
	if s.MLTMinTermFreq <= 0 {
		s.MLTMinTermFreq = d.MLTMinTermFreq
	}
	if s.MLTMaxQueryTerms <= 0 {
		s.MLTMaxQueryTerms = d.MLTMaxQueryTerms
	}
	return &Composer{settings: s}
}

// Settings returns the effective settings.
func (c *Composer) Settings() Settings {
	return c.settings
}

// Hybrid builds the combined lexical and vector request for term: one match
// clause per lexical field followed by one neural clause per vector field.
func (c *Composer) Hybrid(term string) *Request {
	queries := make([]Clause, 0, len(LexicalFields)+len(VectorFields))
	for _, f := range LexicalFields {
		queries = append(queries, Match{Field: f, Query: term})
	}
	for _, f := range VectorFields {
		queries = append(queries, Neural{
			Field:     f,
			QueryText: term,
			ModelID:   c.settings.ModelID,
			K:         c.settings.K,
		})
	}
	return &Request{
		Query:          Hybrid{Queries: queries},
		Size:           c.settings.HybridSize,
		TerminateAfter: c.settings.TerminateAfter,
	}
}

// MoreLikeThis builds a similarity request seeded with term.
func (c *Composer) MoreLikeThis(term string) *Request {
	fields := make([]string, len(document.TextFields))
	copy(fields, document.TextFields)
	return &Request{
		Query: MoreLikeThis{
			Fields:        fields,
			Like:          term,
			MinTermFreq:   c.settings.MLTMinTermFreq,
			MaxQueryTerms: c.settings.MLTMaxQueryTerms,
		},
		Size:           c.settings.MLTSize,
		TerminateAfter: c.settings.TerminateAfter,
	}
}
