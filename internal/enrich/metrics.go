package enrich

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/runlog"
)

// sourceMetrics accumulates one source's counters for a run.
type sourceMetrics struct {
	cacheHits     int
	cacheMisses   int
	callSuccesses int
	callFailures  int
	latencies     []time.Duration
}

// SourceSummary is the computed view of one source's run metrics.
type SourceSummary struct {
	CacheHits       int     `json:"cache_hits"`
	CacheMisses     int     `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	CallSuccesses   int     `json:"call_successes"`
	CallFailures    int     `json:"call_failures"`
	CallSuccessRate float64 `json:"call_success_rate"`
	LatencyP50Ms    float64 `json:"latency_p50_ms"`
	LatencyP95Ms    float64 `json:"latency_p95_ms"`
	LatencyP99Ms    float64 `json:"latency_p99_ms"`
}

// RunSummary is one enrichment run's metrics, as appended to the run log.
type RunSummary struct {
	RunID        string                   `json:"run_id"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	NotAttempted int                      `json:"not_attempted"`
	BySource     map[string]SourceSummary `json:"by_source"`
}

// RunMetrics accumulates per-source enrichment counters and latency samples
// for one run. Safe for concurrent recorders.
type RunMetrics struct {
	mu           sync.Mutex
	startedAt    time.Time
	bySource     map[string]*sourceMetrics
	notAttempted int

	nowFunc func() time.Time
}

// NewRunMetrics creates an empty accumulator stamped with the current time.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{
		startedAt: time.Now(),
		bySource:  make(map[string]*sourceMetrics),
		nowFunc:   time.Now,
	}
}

func (m *RunMetrics) source(code string) *sourceMetrics {
	s, ok := m.bySource[code]
	if !ok {
		s = &sourceMetrics{}
		m.bySource[code] = s
	}
	return s
}

// RecordCacheHit counts a metadata cache hit for the source.
func (m *RunMetrics) RecordCacheHit(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source(source).cacheHits++
}

// RecordCacheMiss counts a metadata cache miss for the source.
func (m *RunMetrics) RecordCacheMiss(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source(source).cacheMisses++
}

// RecordCallSuccess counts a successful outbound call and its latency.
func (m *RunMetrics) RecordCallSuccess(source string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.source(source)
	s.callSuccesses++
	s.latencies = append(s.latencies, latency)
}

// RecordCallFailure counts a failed outbound call and its latency. Timeouts
// count here too.
func (m *RunMetrics) RecordCallFailure(source string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.source(source)
	s.callFailures++
	s.latencies = append(s.latencies, latency)
}

// RecordNotAttempted counts a record for which no source or key could be
// derived.
func (m *RunMetrics) RecordNotAttempted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notAttempted++
}

// Summary computes rates and latency percentiles from the accumulated
// counters. The accumulator keeps counting afterwards; Summary is a
// snapshot.
func (m *RunMetrics) Summary() *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    m.startedAt,
		FinishedAt:   m.nowFunc(),
		NotAttempted: m.notAttempted,
		BySource:     make(map[string]SourceSummary, len(m.bySource)),
	}
	for code, s := range m.bySource {
		sum := SourceSummary{
			CacheHits:     s.cacheHits,
			CacheMisses:   s.cacheMisses,
			CallSuccesses: s.callSuccesses,
			CallFailures:  s.callFailures,
		}
		if lookups := s.cacheHits + s.cacheMisses; lookups > 0 {
			sum.CacheHitRate = float64(s.cacheHits) / float64(lookups)
		}
		if calls := s.callSuccesses + s.callFailures; calls > 0 {
			sum.CallSuccessRate = float64(s.callSuccesses) / float64(calls)
		}
		sum.LatencyP50Ms = percentileMs(s.latencies, 50)
		sum.LatencyP95Ms = percentileMs(s.latencies, 95)
		sum.LatencyP99Ms = percentileMs(s.latencies, 99)
		out.BySource[code] = sum
	}
	return out
}

// Flush appends a summary of the run to the metrics run log.
func (m *RunMetrics) Flush(log *runlog.Log) error {
	if err := log.Append(m.Summary()); err != nil {
		return eris.Wrap(err, "enrich: flush run metrics")
	}
	return nil
}

// percentileMs computes the nearest-rank percentile of the samples, in
// milliseconds. Zero samples yield zero.
func percentileMs(samples []time.Duration, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return float64(sorted[rank-1].Microseconds()) / 1000
}
