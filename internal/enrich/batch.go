package enrich

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/awardsync/internal/model"
)

// BatchStats summarizes one EnrichBatch run.
type BatchStats struct {
	TotalRecords       int     `json:"total_records"`
	UniqueKeys         int     `json:"unique_keys"`
	Enriched           int     `json:"enriched"`
	Failed             int     `json:"failed"`
	NotAttempted       int     `json:"not_attempted"`
	DeduplicationRatio float64 `json:"deduplication_ratio"`
}

// BatchOptimizer deduplicates a batch by derived (source, key) so the
// orchestrator is invoked at most once per distinct pair, however large the
// batch. Records without a derivable key get no dedup benefit and are
// processed individually.
type BatchOptimizer struct {
	orch        *Orchestrator
	concurrency int

	mu    sync.Mutex
	stats BatchStats
}

// NewBatchOptimizer wraps an orchestrator. Concurrency bounds the number of
// in-flight orchestrator calls; values below 1 mean serial.
func NewBatchOptimizer(orch *Orchestrator, concurrency int) *BatchOptimizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchOptimizer{orch: orch, concurrency: concurrency}
}

// batchGroup is one distinct (source, key) with the input indexes that
// share it. The first index is the representative actually enriched.
type batchGroup struct {
	indexes []int
}

// EnrichBatch enriches all awards, making one orchestrator call per
// distinct (source, key) and propagating that result's enrichment fields to
// every member of the group. Output order matches input order, and each
// result carries its own original award.
func (b *BatchOptimizer) EnrichBatch(ctx context.Context, awards []model.Award) []model.EnrichedAward {
	groups := make(map[string]*batchGroup)
	var order []string
	for i, a := range awards {
		gk := b.groupKey(a, i)
		g, ok := groups[gk]
		if !ok {
			g = &batchGroup{}
			groups[gk] = g
			order = append(order, gk)
		}
		g.indexes = append(g.indexes, i)
	}

	representative := make([]model.EnrichedAward, len(order))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for gi, gk := range order {
		rep := awards[groups[gk].indexes[0]]
		eg.Go(func() error {
			representative[gi] = b.orch.Enrich(egCtx, rep)
			return nil
		})
	}
	// Workers never return errors; outcomes live on the results.
	_ = eg.Wait()

	results := make([]model.EnrichedAward, len(awards))
	for gi, gk := range order {
		rep := representative[gi]
		for _, idx := range groups[gk].indexes {
			r := rep
			r.Award = awards[idx]
			results[idx] = r
		}
	}

	stats := BatchStats{TotalRecords: len(awards), UniqueKeys: len(order)}
	for _, r := range results {
		switch r.Status {
		case model.StatusEnriched:
			stats.Enriched++
		case model.StatusFailed:
			stats.Failed++
		case model.StatusNotAttempted:
			stats.NotAttempted++
		}
	}
	if stats.TotalRecords > 0 {
		stats.DeduplicationRatio = float64(stats.UniqueKeys) / float64(stats.TotalRecords)
	}

	b.mu.Lock()
	b.stats = stats
	b.mu.Unlock()

	return results
}

// Stats returns the statistics of the most recent EnrichBatch run.
func (b *BatchOptimizer) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// groupKey derives the dedup key for one award. Records with no resolvable
// (source, key) are singleton groups keyed by their own position so they
// never merge with each other.
func (b *BatchOptimizer) groupKey(a model.Award, index int) string {
	source := b.orch.resolveSource(a)
	key := resolveKey(a)
	if source == "" || key == "" {
		return "singleton\x00" + a.ID + "\x00" + strconv.Itoa(index)
	}
	return source + "\x00" + key
}
