// Package telemetry keeps in-process statistics about served search queries.
// Nothing leaves the process; the numbers are exposed by the HTTP service.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed search call.
type QueryEvent struct {
	Mode    string
	Term    string
	Results int
	Latency time.Duration
	Failed  bool
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first. Never nil.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases query and returns its words of three or more bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query word and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of successful queries with no results.
func (s *Snapshot) ZeroResultPercentage() float64 {
	ok := s.TotalQueries - s.FailedQueries
	if ok <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(ok) * 100
}

// Config sizes the collector.
type Config struct {
	TopTermsCapacity      int // distinct words tracked (default: 100)
	ZeroResultsCapacity   int // zero-result queries remembered (default: 100)
	RecentQueriesCapacity int // query hashes kept for repeat detection (default: 500)
	TopTermsLimit         int // words reported in a snapshot (default: 20)
}

// DefaultConfig returns the default sizes.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		TopTermsLimit:         20,
	}
}

// QueryMetrics aggregates QueryEvents. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	modes           map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	failedQueries   int64
	zeroResultCount int64
	exactRepeats    int64
	startTime       time.Time
	topLimit        int
}

// NewQueryMetrics creates a collector. Zero config fields take their defaults.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if cfg.TopTermsLimit <= 0 {
		cfg.TopTermsLimit = def.TopTermsLimit
	}

	// lru.New only fails for a non-positive size.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryMetrics{
		modes:         make(map[string]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		topLimit:      cfg.TopTermsLimit,
	}
}

// Record adds one event.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.modes[event.Mode]++
	m.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Term) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	key := hashQuery(event.Mode, event.Term)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})

	if event.Failed {
		m.failedQueries++
		return
	}
	if event.Results == 0 {
		m.zeroResultCount++
		m.zeroResults.Add(event.Term)
	}
}

// hashQuery keys a query by mode and normalized text.
func hashQuery(mode, term string) string {
	sum := sha256.Sum256([]byte(mode + "\x00" + strings.ToLower(strings.TrimSpace(term))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	modes := make(map[string]int64, len(m.modes))
	for k, v := range m.modes {
		modes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > m.topLimit {
		terms = terms[:m.topLimit]
	}

	var repeatRate float64
	if m.totalQueries > 0 {
		repeatRate = float64(m.exactRepeats) / float64(m.totalQueries)
	}

	return &Snapshot{
		TotalQueries:        m.totalQueries,
		FailedQueries:       m.failedQueries,
		ModeCounts:          modes,
		TopTerms:            terms,
		ZeroResultCount:     m.zeroResultCount,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		ExactRepeatCount:    m.exactRepeats,
		ExactRepeatRate:     repeatRate,
		Since:               m.startTime,
	}
}
