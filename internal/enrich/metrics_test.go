package enrich

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/awardsync/internal/runlog"
)

func TestRunMetricsSummary(t *testing.T) {
	m := NewRunMetrics()

	m.RecordCacheHit("nih")
	m.RecordCacheHit("nih")
	m.RecordCacheMiss("nih")
	m.RecordCallSuccess("nih", 100*time.Millisecond)
	m.RecordCallFailure("nih", 300*time.Millisecond)
	m.RecordNotAttempted()

	s := m.Summary()
	require.Contains(t, s.BySource, "nih")
	nih := s.BySource["nih"]

	assert.Equal(t, 2, nih.CacheHits)
	assert.Equal(t, 1, nih.CacheMisses)
	assert.InDelta(t, 2.0/3.0, nih.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.5, nih.CallSuccessRate, 1e-9)
	assert.Equal(t, 1, s.NotAttempted)
	assert.NotEmpty(t, s.RunID)
	assert.False(t, s.FinishedAt.Before(s.StartedAt))
}

func TestRunMetricsPercentiles(t *testing.T) {
	m := NewRunMetrics()
	// 100 samples: 10ms, 20ms, ..., 1000ms.
	for i := 1; i <= 100; i++ {
		m.RecordCallSuccess("nsf", time.Duration(i)*10*time.Millisecond)
	}

	nsf := m.Summary().BySource["nsf"]
	assert.InDelta(t, 500, nsf.LatencyP50Ms, 1e-9)
	assert.InDelta(t, 950, nsf.LatencyP95Ms, 1e-9)
	assert.InDelta(t, 990, nsf.LatencyP99Ms, 1e-9)
}

func TestRunMetricsEmptySource(t *testing.T) {
	m := NewRunMetrics()
	s := m.Summary()
	assert.Empty(t, s.BySource)
	assert.Zero(t, s.NotAttempted)
}

func TestRunMetricsFlushAppendsToRunLog(t *testing.T) {
	log := runlog.New(filepath.Join(t.TempDir(), "enrichment_metrics.json"), "runs")

	m := NewRunMetrics()
	m.RecordCacheHit("nih")
	require.NoError(t, m.Flush(log))

	m.RecordCacheMiss("nih")
	require.NoError(t, m.Flush(log))

	n, err := log.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var runs []RunSummary
	require.NoError(t, log.Read(&runs))
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[1].BySource["nih"].CacheMisses)
}
