package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/crawldex/crawldex/internal/document"
)

// lexicalDoc is the stored and indexed form of a record.
type lexicalDoc struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// ranked is one entry of a per-clause result list.
type ranked struct {
	ID    string
	Score float64
}

// lexicalIndex wraps a bleve index holding the text fields of every record.
type lexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// openLexicalIndex opens or creates the index at path. An empty path creates
// an in-memory index.
func openLexicalIndex(path string, logger *slog.Logger) (*lexicalIndex, error) {
	m, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = openOrCreate(path, m, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &lexicalIndex{index: idx, path: path}, nil
}

func openOrCreate(path string, m mapping.IndexMapping, logger *slog.Logger) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if err := validateIndexIntegrity(path); err != nil {
		logger.Warn("lexical_index_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, err)
		}
		logger.Info("lexical_index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, re-run parse --index"))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		return bleve.New(path, m)
	}
	return idx, err
}

// validateIndexIntegrity checks the index metadata before opening. A missing
// directory is valid; the index is created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// newIndexMapping stores and indexes the four text fields with the standard
// analyzer.
func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = standard.Name

	doc := bleve.NewDocumentStaticMapping()
	for _, f := range document.TextFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
		fm.Store = true
		fm.IncludeTermVectors = false
		doc.AddFieldMappingsAt(f, fm)
	}
	m.DefaultMapping = doc

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *lexicalIndex) put(docs map[string]lexicalDoc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for id, d := range docs {
		if err := batch.Index(id, d); err != nil {
			return fmt.Errorf("index document %s: %w", id, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// existing returns the subset of ids already present.
func (l *lexicalIndex) existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	res, err := l.search(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, h := range res.Hits {
		out[h.ID] = true
	}
	return out, nil
}

// match runs a match query of text against field and returns at most limit
// hits in score order.
func (l *lexicalIndex) match(ctx context.Context, field, text string, limit int) ([]ranked, error) {
	if strings.TrimSpace(text) == "" {
		return []ranked{}, nil
	}
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return l.topHits(ctx, q, limit)
}

// anyTerm runs a disjunction of term queries for every term over every
// field.
func (l *lexicalIndex) anyTerm(ctx context.Context, fields, terms []string, limit int) ([]ranked, int, error) {
	if len(terms) == 0 || len(fields) == 0 {
		return []ranked{}, 0, nil
	}
	clauses := make([]bquery.Query, 0, len(fields)*len(terms))
	for _, f := range fields {
		for _, t := range terms {
			tq := bleve.NewTermQuery(t)
			tq.SetField(f)
			clauses = append(clauses, tq)
		}
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(clauses...), limit, 0, false)
	res, err := l.search(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ranked, len(res.Hits))
	for i, h := range res.Hits {
		out[i] = ranked{ID: h.ID, Score: h.Score}
	}
	return out, int(res.Total), nil
}

func (l *lexicalIndex) topHits(ctx context.Context, q bquery.Query, limit int) ([]ranked, error) {
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := l.search(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]ranked, len(res.Hits))
	for i, h := range res.Hits {
		out[i] = ranked{ID: h.ID, Score: h.Score}
	}
	return out, nil
}

// fetch returns the stored records for ids. Unknown ids are absent from the
// result.
func (l *lexicalIndex) fetch(ctx context.Context, ids []string) (map[string]*document.IndexRecord, error) {
	out := make(map[string]*document.IndexRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	req.Fields = document.TextFields
	res, err := l.search(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, h := range res.Hits {
		r := document.NewIndexRecord()
		r.Title = storedString(h.Fields, document.FieldTitle)
		r.Content = storedString(h.Fields, document.FieldContent)
		r.URL = storedString(h.Fields, document.FieldURL)
		r.Category = storedString(h.Fields, document.FieldCategory)
		out[h.ID] = &r
	}
	return out, nil
}

func storedString(fields map[string]any, name string) string {
	if s, ok := fields[name].(string); ok && s != "" {
		return s
	}
	return document.Unknown
}

// analyze runs text through the index's standard analyzer.
func (l *lexicalIndex) analyze(text string) analysis.TokenStream {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	a := l.index.Mapping().AnalyzerNamed(standard.Name)
	if a == nil {
		return nil
	}
	return a.Analyze([]byte(text))
}

func (l *lexicalIndex) search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

func (l *lexicalIndex) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0
	}
	n, _ := l.index.DocCount()
	return int(n)
}

func (l *lexicalIndex) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
