package local

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// errDimensionMismatch is returned when a vector does not match the graph.
type errDimensionMismatch struct {
	Expected int
	Got      int
}

func (e errDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// vectorField is the kNN graph of one embedding field, keyed by document id.
type vectorField struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	// coder/hnsw keys are integers; ids map onto them.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMeta is persisted next to the exported graph.
type vectorMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

func newVectorField(dimensions int) *vectorField {
	return &vectorField{
		graph:      newGraph(),
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// put inserts or replaces the vector of id.
func (v *vectorField) put(id string, vec []float32) error {
	if len(vec) != v.dimensions {
		return errDimensionMismatch{Expected: v.dimensions, Got: len(vec)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector field is closed")
	}

	// Replaced vectors stay in the graph unmapped; deleting the last node
	// of a coder/hnsw graph corrupts it.
	if old, ok := v.idMap[id]; ok {
		delete(v.keyMap, old)
		delete(v.idMap, id)
	}

	// A zero vector has no direction; the id is left without a vector.
	if isZero(vec) {
		return nil
	}

	key := v.nextKey
	v.nextKey++

	norm := make([]float32, len(vec))
	copy(norm, vec)
	normalizeInPlace(norm)
	v.graph.Add(hnsw.MakeNode(key, norm))

	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

// remove unmaps id.
func (v *vectorField) remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key, ok := v.idMap[id]; ok {
		delete(v.keyMap, key)
		delete(v.idMap, id)
	}
}

// nearest returns up to k ids closest to q by cosine similarity.
func (v *vectorField) nearest(q []float32, k int) ([]ranked, error) {
	if len(q) != v.dimensions {
		return nil, errDimensionMismatch{Expected: v.dimensions, Got: len(q)}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector field is closed")
	}
	if v.graph.Len() == 0 || k <= 0 || isZero(q) {
		return []ranked{}, nil
	}

	norm := make([]float32, len(q))
	copy(norm, q)
	normalizeInPlace(norm)

	// Over-fetch to make up for unmapped nodes.
	fetch := k
	if orphans := v.graph.Len() - len(v.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := v.graph.Search(norm, fetch)
	out := make([]ranked, 0, k)
	for _, n := range nodes {
		id, ok := v.keyMap[n.Key]
		if !ok {
			continue
		}
		dist := v.graph.Distance(norm, n.Value)
		out = append(out, ranked{ID: id, Score: float64(1 - dist/2)})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (v *vectorField) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// orphans counts graph nodes no id maps to.
func (v *vectorField) orphans() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.graph.Len() - len(v.idMap)
}

// compactPolicy decides when a field is rebuilt. A zero policy rebuilds
// whenever there is an orphan.
type compactPolicy struct {
	threshold  float64
	minOrphans int
}

func (p compactPolicy) due(orphans, nodes int) bool {
	if orphans <= 0 || orphans < p.minOrphans {
		return false
	}
	return float64(orphans)/float64(nodes) > p.threshold
}

// compact rebuilds the graph from the mapped vectors, in insertion order,
// and returns the number of orphans dropped.
func (v *vectorField) compact() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, fmt.Errorf("vector field is closed")
	}
	dropped := v.graph.Len() - len(v.idMap)
	if dropped <= 0 {
		return 0, nil
	}

	keys := make([]uint64, 0, len(v.keyMap))
	for key := range v.keyMap {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	graph := newGraph()
	idMap := make(map[string]uint64, len(keys))
	keyMap := make(map[uint64]string, len(keys))
	for i, old := range keys {
		vec, ok := v.graph.Lookup(old)
		if !ok {
			return 0, fmt.Errorf("vector %d missing from graph", old)
		}
		key := uint64(i)
		graph.Add(hnsw.MakeNode(key, vec))
		id := v.keyMap[old]
		idMap[id] = key
		keyMap[key] = id
	}

	v.graph = graph
	v.idMap = idMap
	v.keyMap = keyMap
	v.nextKey = uint64(len(keys))
	return dropped, nil
}

// save exports the graph to path and the id mapping to path+".meta", each
// through a temp file and rename.
func (v *vectorField) save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return fmt.Errorf("vector field is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	err := writeAtomic(path, func(f *os.File) error {
		return v.graph.Export(f)
	})
	if err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	meta := vectorMeta{IDMap: v.idMap, NextKey: v.nextKey, Dimensions: v.dimensions}
	err = writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// loadVectorField reads a field saved by save. A missing file yields an
// empty field.
func loadVectorField(path string, dimensions int, logger *slog.Logger) (*vectorField, error) {
	v := newVectorField(dimensions)

	metaFile, err := os.Open(path + ".meta")
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := metaFile.Close(); err != nil {
			logger.Warn("close_metadata_failed", slog.String("error", err.Error()))
		}
	}()

	var meta vectorMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}
	if meta.Dimensions != dimensions {
		return nil, fmt.Errorf("%s was built with %d dimensions, embedder produces %d: %w",
			filepath.Base(path), meta.Dimensions, dimensions,
			errDimensionMismatch{Expected: dimensions, Got: meta.Dimensions})
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer graphFile.Close()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}

	v.idMap = meta.IDMap
	if v.idMap == nil {
		v.idMap = make(map[string]uint64)
	}
	v.nextKey = meta.NextKey
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}
	return v, nil
}

func (v *vectorField) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
