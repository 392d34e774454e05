package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
}

func TestCircularBuffer_EmptyItemsNotNil(t *testing.T) {
	buf := NewCircularBuffer[string](0)

	items := buf.Items()

	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency), tt.latency.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"tuition", "fees", "2026"}, ExtractTerms("  Tuition FEES of 2026 "))
	assert.Nil(t, ExtractTerms("a an"))
	assert.Nil(t, ExtractTerms(""))
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	// Given a collector fed with a mix of queries
	m := NewQueryMetrics(Config{})
	m.Record(QueryEvent{Mode: "hybrid", Term: "tuition fees", Results: 3, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Mode: "hybrid", Term: "Tuition fees", Results: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Mode: "similar", Term: "student housing", Results: 0, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Mode: "hybrid", Term: "parking", Failed: true, Latency: time.Second})

	// When taking a snapshot
	s := m.Snapshot()

	// Then every aggregate reflects the events
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(1), s.FailedQueries)
	assert.Equal(t, map[string]int64{"hybrid": 3, "similar": 1}, s.ModeCounts)
	require.NotEmpty(t, s.TopTerms)
	assert.ElementsMatch(t, []TermCount{{"fees", 2}, {"tuition", 2}}, s.TopTerms[:2])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"student housing"}, s.ZeroResultQueries)
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.InDelta(t, 0.25, s.ExactRepeatRate, 1e-9)
	assert.InDelta(t, 100.0/3, s.ZeroResultPercentage(), 1e-9)
}

func TestQueryMetrics_RepeatIsPerMode(t *testing.T) {
	m := NewQueryMetrics(Config{})

	m.Record(QueryEvent{Mode: "hybrid", Term: "fees", Results: 1})
	m.Record(QueryEvent{Mode: "similar", Term: "fees", Results: 1})

	assert.Zero(t, m.Snapshot().ExactRepeatCount)
}

func TestQueryMetrics_TopTermsLimit(t *testing.T) {
	m := NewQueryMetrics(Config{TopTermsLimit: 2})

	m.Record(QueryEvent{Mode: "hybrid", Term: "alpha beta gamma", Results: 1})
	m.Record(QueryEvent{Mode: "hybrid", Term: "gamma", Results: 1})

	terms := m.Snapshot().TopTerms
	require.Len(t, terms, 2)
	assert.Equal(t, TermCount{Term: "gamma", Count: 2}, terms[0])
	assert.Equal(t, "alpha", terms[1].Term)
}

func TestQueryMetrics_EmptySnapshot(t *testing.T) {
	s := NewQueryMetrics(DefaultConfig()).Snapshot()

	assert.Zero(t, s.TotalQueries)
	assert.Zero(t, s.ZeroResultPercentage())
	assert.NotNil(t, s.TopTerms)
	assert.NotNil(t, s.ZeroResultQueries)
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(QueryEvent{Mode: "hybrid", Term: "fees", Results: 1})
			_ = m.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Snapshot().TotalQueries)
}
