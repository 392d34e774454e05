// Package local is an embedded index engine: bleve for lexical and
// more-like-this queries, coder/hnsw graphs for the two embedding fields.
//
// Embeddings are computed at bulk time by the configured embedder unless a
// record carries them already. Hybrid queries run every clause separately and
// merge the per-clause lists with Reciprocal Rank Fusion.
//
// With a data directory the engine persists to
//
//	<data_dir>/.lock
//	<data_dir>/indexes/<index>/lexical.bleve/
//	<data_dir>/indexes/<index>/<field>.hnsw{,.meta}
//
// and holds an exclusive lock on the directory until Close. Without one
// everything lives in memory.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/crawldex/crawldex/internal/document"
	"github.com/crawldex/crawldex/internal/embed"
	"github.com/crawldex/crawldex/internal/engine"
	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/query"
)

const (
	lockFileName    = ".lock"
	indexesDirName  = "indexes"
	lexicalDirName  = "lexical.bleve"
	vectorExtension = ".hnsw"

	// defaultSearchSize applies when a request sets no size.
	defaultSearchSize = 10

	// maxClauseHits caps a clause list when a request sets no terminate_after.
	maxClauseHits = 10000
)

// Bulk item error types.
const (
	errTypeValidation = "validation_exception"
	errTypeParsing    = "mapper_parsing_exception"
	errTypeArgument   = "illegal_argument_exception"
	errTypeEmbedding  = "embedding_exception"
)

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// vectorSources pairs each embedding field with the text it embeds.
var vectorSources = []struct {
	field string
	text  func(document.IndexRecord) string
	given func(document.IndexRecord) []string
}{
	{
		field: document.FieldContentEmbedding,
		text:  func(r document.IndexRecord) string { return r.Content },
		given: func(r document.IndexRecord) []string { return r.ContentEmbedding },
	},
	{
		field: document.FieldTitleEmbedding,
		text:  func(r document.IndexRecord) string { return r.Title },
		given: func(r document.IndexRecord) []string { return r.TitleEmbedding },
	},
}

// Options configures the engine.
type Options struct {
	// DataDir enables on-disk mode. Empty means in-memory.
	DataDir string

	// Embedder computes the embedding fields. Required.
	Embedder embed.Embedder

	// RRFConstant is the fusion smoothing constant. Zero means 60.
	RRFConstant int

	// A vector graph is rebuilt once its orphan nodes exceed OrphanThreshold
	// of all nodes and number at least MinOrphanCount.
	OrphanThreshold float64
	MinOrphanCount  int

	Logger *slog.Logger
}

// Engine is an embedded engine.Client.
type Engine struct {
	mu       sync.Mutex
	shards   map[string]*shard
	dataDir  string
	embedder embed.Embedder
	rrfK     int
	compact  compactPolicy
	logger   *slog.Logger
	lock     *flock.Flock
	closed   bool
}

var _ engine.Client = (*Engine)(nil)

// shard holds one named index.
type shard struct {
	name    string
	dir     string
	writeMu sync.Mutex
	lexical *lexicalIndex
	vectors map[string]*vectorField
}

// Stats reports the contents of one index.
type Stats struct {
	Documents int            `json:"documents"`
	Vectors   map[string]int `json:"vectors"`
	// Orphans counts graph nodes left by replaced embeddings, per field.
	Orphans map[string]int `json:"orphans"`
}

// Open creates an engine. In on-disk mode it fails with ERR_205 if another
// process holds the data directory.
func Open(opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, cerrors.InternalError("local engine requires an embedder", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	k := opts.RRFConstant
	if k <= 0 {
		k = DefaultRRFConstant
	}

	e := &Engine{
		shards:   make(map[string]*shard),
		dataDir:  opts.DataDir,
		embedder: opts.Embedder,
		rrfK:     k,
		compact:  compactPolicy{threshold: opts.OrphanThreshold, minOrphans: opts.MinOrphanCount},
		logger:   logger,
	}

	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, cerrors.InternalError("create data directory", err).
				WithDetail("data_dir", opts.DataDir)
		}
		lock := flock.New(filepath.Join(opts.DataDir, lockFileName))
		locked, err := lock.TryLock()
		if err != nil || !locked {
			return nil, cerrors.New(cerrors.ErrCodeIndexLocked, "index data directory is in use", err).
				WithDetail("data_dir", opts.DataDir).
				WithSuggestion("Stop the other crawldex process or point engine.data_dir elsewhere")
		}
		e.lock = lock
	}

	logger.Debug("local_engine_opened",
		slog.String("data_dir", opts.DataDir),
		slog.String("embedder", opts.Embedder.ModelName()),
		slog.Int("dimensions", opts.Embedder.Dimensions()))
	return e, nil
}

// Bulk implements engine.Client.
func (e *Engine) Bulk(ctx context.Context, index string, ops []engine.BulkOperation) (*engine.BulkResponse, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := e.shard(index, true)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	resp := &engine.BulkResponse{Items: make([]engine.BulkItem, len(ops))}
	vecs := e.vectorsFor(ctx, ops)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.ID != "" {
			ids = append(ids, op.ID)
		}
	}
	existing, err := s.lexical.existing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("bulk %s: %w", index, err)
	}

	docs := make(map[string]lexicalDoc, len(ops))
	for i, op := range ops {
		item := &resp.Items[i]
		item.ID = op.ID
		switch {
		case op.ID == "":
			item.Status = 400
			item.Error = &engine.ItemError{Type: errTypeValidation, Reason: "document id is missing"}
		case vecs[i].err != nil:
			item.Status = 400
			item.Error = vecs[i].err
		default:
			d := op.Document
			docs[op.ID] = lexicalDoc{Title: d.Title, Content: d.Content, URL: d.URL, Category: d.Category}
		}
	}

	if err := s.lexical.put(docs); err != nil {
		return nil, fmt.Errorf("bulk %s: %w", index, err)
	}

	for i, op := range ops {
		item := &resp.Items[i]
		if item.Error != nil {
			resp.Errors = true
			continue
		}
		for _, src := range vectorSources {
			vf := s.vectors[src.field]
			if v := vecs[i].byField[src.field]; v != nil {
				// Dimensions were checked in vectorsFor.
				_ = vf.put(op.ID, v)
			} else {
				vf.remove(op.ID)
			}
		}
		if existing[op.ID] {
			item.Status = 200
		} else {
			item.Status = 201
			existing[op.ID] = true
		}
	}

	// A failed rebuild is logged; the old graph stays usable.
	_, _ = e.compactShard(s, false)

	resp.Took = time.Since(start)
	return resp, nil
}

// compactShard rebuilds the vector graphs of s that the policy marks due, or
// every graph with orphans when force is set. The caller holds s.writeMu.
func (e *Engine) compactShard(s *shard, force bool) (int, error) {
	total := 0
	for _, f := range sortedFields(s.vectors) {
		vf := s.vectors[f]
		if !force {
			vf.mu.RLock()
			due := e.compact.due(vf.graph.Len()-len(vf.idMap), vf.graph.Len())
			vf.mu.RUnlock()
			if !due {
				continue
			}
		}
		dropped, err := vf.compact()
		if err != nil {
			e.logger.Warn("vector_compaction_failed",
				slog.String("index", s.name),
				slog.String("field", f),
				slog.String("error", err.Error()))
			return total, fmt.Errorf("compact %s: %w", f, err)
		}
		if dropped > 0 {
			e.logger.Info("vectors_compacted",
				slog.String("index", s.name),
				slog.String("field", f),
				slog.Int("orphans_dropped", dropped),
				slog.Int("vectors", vf.count()))
		}
		total += dropped
	}
	return total, nil
}

func sortedFields(m map[string]*vectorField) []string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// Compact rebuilds every vector graph of index that holds orphan nodes and
// returns the number of nodes dropped.
func (e *Engine) Compact(index string) (int, error) {
	s, err := e.shard(index, false)
	if err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return e.compactShard(s, true)
}

// opVectors holds the embedding vectors of one operation, or the reason it
// cannot be indexed.
type opVectors struct {
	byField map[string][]float32
	err     *engine.ItemError
}

// vectorsFor parses supplied embeddings and computes missing ones. Blank and
// unknown texts get no vector.
func (e *Engine) vectorsFor(ctx context.Context, ops []engine.BulkOperation) []opVectors {
	out := make([]opVectors, len(ops))
	dims := e.embedder.Dimensions()

	type pending struct {
		op    int
		field string
	}
	var (
		texts []string
		slots []pending
	)

	for i, op := range ops {
		out[i].byField = make(map[string][]float32, len(vectorSources))
		for _, src := range vectorSources {
			if given := src.given(op.Document); len(given) > 0 {
				v, err := parseVector(given)
				if err != nil {
					out[i].err = &engine.ItemError{Type: errTypeParsing,
						Reason: fmt.Sprintf("failed to parse field [%s]: %v", src.field, err)}
					break
				}
				if len(v) != dims {
					out[i].err = &engine.ItemError{Type: errTypeArgument,
						Reason: fmt.Sprintf("field [%s]: %v", src.field, errDimensionMismatch{Expected: dims, Got: len(v)})}
					break
				}
				out[i].byField[src.field] = v
				continue
			}
			text := src.text(op.Document)
			if strings.TrimSpace(text) == "" || text == document.Unknown {
				continue
			}
			texts = append(texts, text)
			slots = append(slots, pending{op: i, field: src.field})
		}
	}
	if len(texts) == 0 {
		return out
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		e.logger.Warn("embed_batch_failed",
			slog.Int("texts", len(texts)),
			slog.Any("error", err))
		vectors = make([][]float32, len(texts))
		for j, t := range texts {
			if ctx.Err() != nil {
				break
			}
			if out[slots[j].op].err != nil {
				continue
			}
			v, err := e.embedder.Embed(ctx, t)
			if err != nil {
				out[slots[j].op].err = &engine.ItemError{Type: errTypeEmbedding,
					Reason: fmt.Sprintf("embed field [%s]: %v", slots[j].field, err)}
				continue
			}
			vectors[j] = v
		}
	}

	for j, slot := range slots {
		o := &out[slot.op]
		if o.err != nil || vectors[j] == nil {
			continue
		}
		if len(vectors[j]) != dims {
			o.err = &engine.ItemError{Type: errTypeArgument,
				Reason: fmt.Sprintf("field [%s]: %v", slot.field, errDimensionMismatch{Expected: dims, Got: len(vectors[j])})}
			continue
		}
		o.byField[slot.field] = vectors[j]
	}
	return out
}

func parseVector(values []string) ([]float32, error) {
	v := make([]float32, len(values))
	for i, s := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// Search implements engine.Client.
func (e *Engine) Search(ctx context.Context, index string, req *query.Request) (*engine.SearchResponse, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Query == nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidQuery, "search request has no query", nil)
	}
	s, err := e.shard(index, false)
	if cerrors.GetCode(err) == cerrors.ErrCodeNotFound {
		// Nothing has been ingested into index yet.
		return &engine.SearchResponse{Took: time.Since(start), Hits: []engine.Hit{}}, nil
	}
	if err != nil {
		return nil, err
	}

	size := req.Size
	if size <= 0 {
		size = defaultSearchSize
	}
	limit := req.TerminateAfter
	if limit <= 0 {
		limit = maxClauseHits
	}

	var hits []ranked
	var total int
	switch q := req.Query.(type) {
	case query.MoreLikeThis:
		terms := selectTerms(s.lexical.analyze(q.Like), q.MinTermFreq, q.MaxQueryTerms)
		hits, total, err = s.lexical.anyTerm(ctx, q.Fields, terms, min(size, limit))
		if err != nil {
			return nil, fmt.Errorf("more_like_this: %w", err)
		}
	case query.Hybrid:
		lists := make([][]ranked, 0, len(q.Queries))
		for _, c := range req.Clauses() {
			list, err := e.runClause(ctx, s, c, limit)
			if err != nil {
				return nil, err
			}
			lists = append(lists, list)
		}
		for _, f := range fuseRRF(e.rrfK, lists) {
			hits = append(hits, ranked{ID: f.ID, Score: f.Score})
		}
		total = len(hits)
	default:
		hits, err = e.runClause(ctx, s, q, limit)
		if err != nil {
			return nil, err
		}
		total = len(hits)
	}

	if len(hits) > size {
		hits = hits[:size]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	sources, err := s.lexical.fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch sources: %w", err)
	}

	resp := &engine.SearchResponse{Total: total, Hits: make([]engine.Hit, len(hits))}
	for i, h := range hits {
		resp.Hits[i] = engine.Hit{ID: h.ID, Score: h.Score, Source: sources[h.ID]}
	}
	resp.Took = time.Since(start)
	return resp, nil
}

// runClause evaluates one leaf clause into a ranked list of at most limit
// entries.
func (e *Engine) runClause(ctx context.Context, s *shard, c query.Clause, limit int) ([]ranked, error) {
	switch q := c.(type) {
	case query.Match:
		list, err := s.lexical.match(ctx, q.Field, q.Query, limit)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", q.Field, err)
		}
		return list, nil

	case query.Neural:
		vf, ok := s.vectors[q.Field]
		if !ok {
			return nil, cerrors.New(cerrors.ErrCodeInvalidQuery, "field is not a vector field", nil).
				WithDetail("field", q.Field)
		}
		if strings.TrimSpace(q.QueryText) == "" {
			return []ranked{}, nil
		}
		vec, err := e.embedder.Embed(ctx, q.QueryText)
		if err != nil {
			return nil, cerrors.New(cerrors.ErrCodeEmbeddingFailed, "embed query text", err)
		}
		list, err := vf.nearest(vec, min(q.K, limit))
		if err != nil {
			return nil, fmt.Errorf("neural %s: %w", q.Field, err)
		}
		return list, nil

	default:
		return nil, cerrors.New(cerrors.ErrCodeInvalidQuery, "unsupported clause", nil).
			WithDetail("kind", string(c.Kind()))
	}
}

// shard returns the named index, opening it from disk on first use. Unless
// create is set, an index that does not exist is an error.
func (e *Engine) shard(name string, create bool) (*shard, error) {
	if !indexNamePattern.MatchString(name) {
		return nil, cerrors.ValidationError("invalid index name", nil).WithDetail("index", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, cerrors.TransportError("engine is closed", nil)
	}
	if s, ok := e.shards[name]; ok {
		return s, nil
	}

	var dir string
	if e.dataDir != "" {
		dir = filepath.Join(e.dataDir, indexesDirName, name)
		if _, err := os.Stat(dir); os.IsNotExist(err) && !create {
			return nil, indexNotFound(name)
		}
	} else if !create {
		return nil, indexNotFound(name)
	}

	s, err := e.openShard(name, dir)
	if err != nil {
		return nil, err
	}
	e.shards[name] = s
	return s, nil
}

func indexNotFound(name string) error {
	return cerrors.New(cerrors.ErrCodeNotFound, "no such index", nil).
		WithDetail("index", name).
		WithSuggestion("Run 'crawldex parse <dir> --index " + name + "' first")
}

func (e *Engine) openShard(name, dir string) (*shard, error) {
	lexPath := ""
	if dir != "" {
		lexPath = filepath.Join(dir, lexicalDirName)
	}
	lex, err := openLexicalIndex(lexPath, e.logger)
	if err != nil {
		return nil, cerrors.InternalError("open index "+name, err)
	}

	s := &shard{name: name, dir: dir, lexical: lex, vectors: make(map[string]*vectorField)}
	dims := e.embedder.Dimensions()
	for _, src := range vectorSources {
		if dir == "" {
			s.vectors[src.field] = newVectorField(dims)
			continue
		}
		vf, err := loadVectorField(filepath.Join(dir, src.field+vectorExtension), dims, e.logger)
		if err != nil {
			_ = lex.close()
			return nil, cerrors.InternalError("load "+src.field+" of index "+name, err).
				WithSuggestion("Re-index with the embedder the index was built with, or delete " + dir)
		}
		s.vectors[src.field] = vf
	}

	e.logger.Debug("index_opened",
		slog.String("index", name),
		slog.Int("documents", lex.count()))
	return s, nil
}

// Stats returns document and vector counts for an index.
func (e *Engine) Stats(index string) (Stats, error) {
	s, err := e.shard(index, false)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Documents: s.lexical.count(),
		Vectors:   make(map[string]int, len(s.vectors)),
		Orphans:   make(map[string]int, len(s.vectors)),
	}
	for f, vf := range s.vectors {
		st.Vectors[f] = vf.count()
		st.Orphans[f] = vf.orphans()
	}
	return st, nil
}

// Close persists on-disk indexes and releases the data directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, s := range e.shards {
		s.writeMu.Lock()
		if s.dir != "" {
			_, _ = e.compactShard(s, false)
			for f, vf := range s.vectors {
				keep(vf.save(filepath.Join(s.dir, f+vectorExtension)))
			}
		}
		for _, vf := range s.vectors {
			vf.close()
		}
		keep(s.lexical.close())
		s.writeMu.Unlock()
	}

	if e.lock != nil {
		keep(e.lock.Unlock())
	}
	return firstErr
}
