package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetRAGMetrics(t *testing.T) {
	assert.Same(t, GetRAGMetrics(), GetRAGMetrics(), "应该返回同一个单例实例")
}

func TestRecordQuery(t *testing.T) {
	m := New()

	m.RecordQuery(true, true, nil)
	m.RecordQuery(false, false, nil)
	m.RecordQuery(false, false, assert.AnError)

	s := m.Stats()
	assert.Equal(t, uint64(3), s.Queries.Total)
	assert.Equal(t, uint64(1), s.Queries.CacheHits)
	assert.Equal(t, uint64(1), s.Queries.CacheMisses)
	assert.Equal(t, uint64(1), s.Queries.Ungrounded)
	assert.Equal(t, uint64(1), s.Queries.Errors)
	assert.InDelta(t, 0.5, s.Queries.CacheHitRate, 1e-9)
}

func TestRecordSearch(t *testing.T) {
	m := New()

	m.RecordSearch(100*time.Millisecond, 3, nil)
	m.RecordSearch(300*time.Millisecond, 0, nil)
	m.RecordSearch(time.Second, 0, assert.AnError)

	s := m.Stats()
	assert.Equal(t, uint64(3), s.Search.Total)
	assert.Equal(t, uint64(1), s.Search.Empty)
	assert.Equal(t, uint64(1), s.Search.Errors)
	assert.InDelta(t, 0.2, s.Search.AvgDurationSecs, 1e-6)
}

func TestRecordIndexing(t *testing.T) {
	m := New()

	m.RecordIndexing(time.Second, 4, 1200, false, false, nil)
	m.RecordIndexing(time.Millisecond, 4, 1200, true, false, nil)
	m.RecordIndexing(0, 0, 0, false, true, assert.AnError)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Indexing.Documents)
	assert.Equal(t, uint64(1), s.Indexing.Unchanged)
	assert.Equal(t, uint64(4), s.Indexing.Chunks)
	assert.Equal(t, uint64(1200), s.Indexing.BytesCommitted)
	assert.Equal(t, uint64(1), s.Indexing.Errors)
	assert.Equal(t, uint64(1), s.Indexing.QuotaRejections)
}

func TestRecordCircuitBreakerState(t *testing.T) {
	m := New()

	m.RecordCircuitBreakerState("open")
	assert.Equal(t, "open", m.Stats().CircuitBreaker.State)
	m.RecordCircuitBreakerState("half-open")
	assert.Equal(t, "half-open", m.Stats().CircuitBreaker.State)
	m.RecordCircuitBreakerState("closed")

	s := m.Stats()
	assert.Equal(t, "closed", s.CircuitBreaker.State)
	assert.Equal(t, uint64(1), s.CircuitBreaker.Opens)
}

func TestExport(t *testing.T) {
	m := New()
	m.RecordQuery(false, true, nil)
	m.RecordGeneration(50*time.Millisecond, nil)

	out := m.Export("sentinel", "rag")
	assert.Contains(t, out, "# TYPE sentinel_rag_queries_total counter")
	assert.Contains(t, out, "sentinel_rag_queries_total 1\n")
	assert.Contains(t, out, "sentinel_rag_generation_calls_total 1\n")
	assert.Contains(t, out, "# TYPE sentinel_rag_cache_hit_rate gauge")
	assert.Contains(t, out, "sentinel_rag_uptime_seconds")
}

func TestReset(t *testing.T) {
	m := New()
	m.RecordQuery(true, true, nil)
	m.RecordCircuitBreakerState("open")
	m.Reset()

	s := m.Stats()
	assert.Zero(t, s.Queries.Total)
	assert.Zero(t, s.CircuitBreaker.Opens)
	assert.Equal(t, "closed", s.CircuitBreaker.State)
}

func TestConcurrentRecording(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordQuery(j%2 == 0, true, nil)
				m.RecordSearch(time.Millisecond, 1, nil)
			}
		}()
	}
	wg.Wait()

	s := m.Stats()
	assert.Equal(t, uint64(5000), s.Queries.Total)
	assert.Equal(t, uint64(2500), s.Queries.CacheHits)
	assert.Equal(t, uint64(5000), s.Search.Total)
}
