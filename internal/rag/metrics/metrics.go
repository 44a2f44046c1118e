// Package metrics 提供 RAG 服务的业务指标收集。
package metrics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// counter 单调递增计数器。
type counter struct{ v atomic.Uint64 }

func (c *counter) inc() { c.v.Add(1) }
func (c *counter) add(n uint64) { c.v.Add(n) }
func (c *counter) Get() uint64 { return c.v.Load() }
func (c *counter) reset() { c.v.Store(0) }

// seconds 以纳秒累加的耗时。
type seconds struct{ ns atomic.Int64 }

func (s *seconds) observe(d time.Duration) { s.ns.Add(int64(d)) }
func (s *seconds) Get() float64 { return time.Duration(s.ns.Load()).Seconds() }
func (s *seconds) reset() { s.ns.Store(0) }

// RAGMetrics RAG 服务业务指标。
type RAGMetrics struct {
	// 问答
	queriesTotal       counter
	queriesCacheHits   counter
	queriesCacheMisses counter
	queriesUngrounded  counter
	queriesErrors      counter

	// 检索
	searchTotal    counter
	searchEmpty    counter
	searchErrors   counter
	searchDuration seconds

	// 生成服务
	generationTotal    counter
	generationErrors   counter
	generationDuration seconds

	// 熔断器状态 (0=closed, 1=open, 2=half-open)
	circuitBreakerOpens counter
	circuitBreakerState atomic.Int32

	// 索引
	documentsIndexed   counter
	documentsUnchanged counter
	chunksIndexed      counter
	bytesCommitted     counter
	indexErrors        counter
	quotaRejections    counter
	indexDuration      seconds

	startTime time.Time
}

var (
	globalRAGMetrics *RAGMetrics
	ragMetricsOnce   sync.Once
)

// GetRAGMetrics 获取全局 RAG 指标实例。
func GetRAGMetrics() *RAGMetrics {
	ragMetricsOnce.Do(func() {
		globalRAGMetrics = New()
	})
	return globalRAGMetrics
}

// New 创建独立的指标实例。
func New() *RAGMetrics {
	return &RAGMetrics{startTime: time.Now()}
}

// RecordQuery 记录一次问答。
func (m *RAGMetrics) RecordQuery(cacheHit, grounded bool, err error) {
	m.queriesTotal.inc()
	if err != nil {
		m.queriesErrors.inc()
		return
	}
	if cacheHit {
		m.queriesCacheHits.inc()
	} else {
		m.queriesCacheMisses.inc()
	}
	if !grounded {
		m.queriesUngrounded.inc()
	}
}

// RecordSearch 记录一次相似度检索。
func (m *RAGMetrics) RecordSearch(duration time.Duration, hits int, err error) {
	m.searchTotal.inc()
	if err != nil {
		m.searchErrors.inc()
		return
	}
	m.searchDuration.observe(duration)
	if hits == 0 {
		m.searchEmpty.inc()
	}
}

// RecordGeneration 记录一次生成服务调用。
func (m *RAGMetrics) RecordGeneration(duration time.Duration, err error) {
	m.generationTotal.inc()
	if err != nil {
		m.generationErrors.inc()
		return
	}
	m.generationDuration.observe(duration)
}

// RecordCircuitBreakerState 记录熔断器状态变化，进入 open 时计数。
func (m *RAGMetrics) RecordCircuitBreakerState(state string) {
	switch state {
	case "open":
		m.circuitBreakerOpens.inc()
		m.circuitBreakerState.Store(1)
	case "half-open":
		m.circuitBreakerState.Store(2)
	default:
		m.circuitBreakerState.Store(0)
	}
}

// RecordIndexing 记录一次文档索引。quotaRejected 表示因配额不足被拒绝。
func (m *RAGMetrics) RecordIndexing(duration time.Duration, chunks int, bytes int64, unchanged, quotaRejected bool, err error) {
	if err != nil {
		m.indexErrors.inc()
		if quotaRejected {
			m.quotaRejections.inc()
		}
		return
	}
	m.indexDuration.observe(duration)
	if unchanged {
		m.documentsUnchanged.inc()
		return
	}
	m.documentsIndexed.inc()
	m.chunksIndexed.add(uint64(chunks))
	if bytes > 0 {
		m.bytesCommitted.add(uint64(bytes))
	}
}

type sample struct {
	name, help, kind string
	value            float64
}

func (m *RAGMetrics) samples() []sample {
	hits, misses := m.queriesCacheHits.Get(), m.queriesCacheMisses.Get()
	return []sample{
		{"queries_total", "Total number of RAG queries.", "counter", float64(m.queriesTotal.Get())},
		{"queries_cache_hits_total", "Number of query cache hits.", "counter", float64(hits)},
		{"queries_cache_misses_total", "Number of query cache misses.", "counter", float64(misses)},
		{"queries_ungrounded_total", "Number of queries answered without grounding.", "counter", float64(m.queriesUngrounded.Get())},
		{"queries_errors_total", "Number of failed queries.", "counter", float64(m.queriesErrors.Get())},
		{"cache_hit_rate", "Query cache hit rate (0-1).", "gauge", ratio(hits, hits+misses)},
		{"search_total", "Total number of similarity searches.", "counter", float64(m.searchTotal.Get())},
		{"search_empty_total", "Number of searches with no matching chunks.", "counter", float64(m.searchEmpty.Get())},
		{"search_errors_total", "Number of failed searches.", "counter", float64(m.searchErrors.Get())},
		{"search_duration_seconds_total", "Total search duration.", "counter", m.searchDuration.Get()},
		{"generation_calls_total", "Total number of generation calls.", "counter", float64(m.generationTotal.Get())},
		{"generation_errors_total", "Number of failed generation calls.", "counter", float64(m.generationErrors.Get())},
		{"generation_duration_seconds_total", "Total generation duration.", "counter", m.generationDuration.Get()},
		{"circuit_breaker_opens_total", "Number of circuit breaker opens.", "counter", float64(m.circuitBreakerOpens.Get())},
		{"circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open).", "gauge", float64(m.circuitBreakerState.Load())},
		{"documents_indexed_total", "Total documents indexed.", "counter", float64(m.documentsIndexed.Get())},
		{"documents_unchanged_total", "Reindex requests skipped because nothing changed.", "counter", float64(m.documentsUnchanged.Get())},
		{"chunks_indexed_total", "Total chunks indexed.", "counter", float64(m.chunksIndexed.Get())},
		{"bytes_committed_total", "Total quota bytes committed by indexing.", "counter", float64(m.bytesCommitted.Get())},
		{"index_errors_total", "Number of indexing errors.", "counter", float64(m.indexErrors.Get())},
		{"quota_rejections_total", "Number of reservations rejected by quota.", "counter", float64(m.quotaRejections.Get())},
		{"index_duration_seconds_total", "Total indexing duration.", "counter", m.indexDuration.Get()},
		{"uptime_seconds", "Service uptime in seconds.", "gauge", time.Since(m.startTime).Seconds()},
	}
}

// Export 导出 Prometheus 文本格式指标。
func (m *RAGMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	var sb strings.Builder
	for _, s := range m.samples() {
		name := prefix + "_" + s.name
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, s.kind)
		if s.value == math.Trunc(s.value) && s.kind == "counter" {
			fmt.Fprintf(&sb, "%s %d\n\n", name, uint64(s.value))
		} else {
			fmt.Fprintf(&sb, "%s %.6f\n\n", name, s.value)
		}
	}
	return sb.String()
}

// Stats 指标快照（用于 API）。
type Stats struct {
	Queries struct {
		Total        uint64  `json:"total"`
		CacheHits    uint64  `json:"cache_hits"`
		CacheMisses  uint64  `json:"cache_misses"`
		CacheHitRate float64 `json:"cache_hit_rate"`
		Ungrounded   uint64  `json:"ungrounded"`
		Errors       uint64  `json:"errors"`
	} `json:"queries"`
	Search struct {
		Total           uint64  `json:"total"`
		Empty           uint64  `json:"empty"`
		Errors          uint64  `json:"errors"`
		AvgDurationSecs float64 `json:"avg_duration_secs"`
	} `json:"search"`
	Generation struct {
		Total           uint64  `json:"total"`
		Errors          uint64  `json:"errors"`
		AvgDurationSecs float64 `json:"avg_duration_secs"`
	} `json:"generation"`
	CircuitBreaker struct {
		State string `json:"state"`
		Opens uint64 `json:"opens"`
	} `json:"circuit_breaker"`
	Indexing struct {
		Documents       uint64 `json:"documents_indexed"`
		Unchanged       uint64 `json:"documents_unchanged"`
		Chunks          uint64 `json:"chunks_indexed"`
		BytesCommitted  uint64 `json:"bytes_committed"`
		Errors          uint64 `json:"errors"`
		QuotaRejections uint64 `json:"quota_rejections"`
	} `json:"indexing"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Stats 返回当前统计信息。
func (m *RAGMetrics) Stats() *Stats {
	s := &Stats{}
	s.Queries.Total = m.queriesTotal.Get()
	s.Queries.CacheHits = m.queriesCacheHits.Get()
	s.Queries.CacheMisses = m.queriesCacheMisses.Get()
	s.Queries.CacheHitRate = ratio(s.Queries.CacheHits, s.Queries.CacheHits+s.Queries.CacheMisses)
	s.Queries.Ungrounded = m.queriesUngrounded.Get()
	s.Queries.Errors = m.queriesErrors.Get()

	s.Search.Total = m.searchTotal.Get()
	s.Search.Empty = m.searchEmpty.Get()
	s.Search.Errors = m.searchErrors.Get()
	if ok := s.Search.Total - s.Search.Errors; ok > 0 {
		s.Search.AvgDurationSecs = m.searchDuration.Get() / float64(ok)
	}

	s.Generation.Total = m.generationTotal.Get()
	s.Generation.Errors = m.generationErrors.Get()
	if ok := s.Generation.Total - s.Generation.Errors; ok > 0 {
		s.Generation.AvgDurationSecs = m.generationDuration.Get() / float64(ok)
	}

	switch m.circuitBreakerState.Load() {
	case 1:
		s.CircuitBreaker.State = "open"
	case 2:
		s.CircuitBreaker.State = "half-open"
	default:
		s.CircuitBreaker.State = "closed"
	}
	s.CircuitBreaker.Opens = m.circuitBreakerOpens.Get()

	s.Indexing.Documents = m.documentsIndexed.Get()
	s.Indexing.Unchanged = m.documentsUnchanged.Get()
	s.Indexing.Chunks = m.chunksIndexed.Get()
	s.Indexing.BytesCommitted = m.bytesCommitted.Get()
	s.Indexing.Errors = m.indexErrors.Get()
	s.Indexing.QuotaRejections = m.quotaRejections.Get()

	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// Reset 重置所有指标（仅用于测试）。
func (m *RAGMetrics) Reset() {
	for _, c := range []*counter{
		&m.queriesTotal, &m.queriesCacheHits, &m.queriesCacheMisses, &m.queriesUngrounded, &m.queriesErrors,
		&m.searchTotal, &m.searchEmpty, &m.searchErrors,
		&m.generationTotal, &m.generationErrors, &m.circuitBreakerOpens,
		&m.documentsIndexed, &m.documentsUnchanged, &m.chunksIndexed, &m.bytesCommitted,
		&m.indexErrors, &m.quotaRejections,
	} {
		c.reset()
	}
	for _, s := range []*seconds{&m.searchDuration, &m.generationDuration, &m.indexDuration} {
		s.reset()
	}
	m.circuitBreakerState.Store(0)
	m.startTime = time.Now()
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
