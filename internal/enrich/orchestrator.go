package enrich

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/match"
	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/resilience"
)

// Failure reasons surfaced on EnrichedAward when a lookup is skipped.
const (
	ReasonCircuitOpen = "circuit open"
	ReasonRateLimited = "rate limited"
	ReasonNotFound    = "no metadata found"
)

// sourceState bundles everything the orchestrator holds per external
// source. Pacer and breaker are per-source and never shared: a failing NIH
// integration must not throttle calls to a healthy NSF integration.
type sourceState struct {
	client  MetadataClient
	pacer   *resilience.Pacer
	breaker *resilience.CircuitBreaker
}

// OrchestratorConfig controls orchestrator-wide behavior. Per-source
// pacing and breaker settings arrive via RegisterSource.
type OrchestratorConfig struct {
	// CallTimeout bounds each outbound lookup. Default: 15s.
	CallTimeout time.Duration

	// AgencySources maps agency codes to source codes. Defaults to
	// DefaultAgencySources when nil.
	AgencySources map[string]string

	// Scorer rates how well fetched metadata matches the award. Defaults
	// to the standard weights and thresholds when nil.
	Scorer *match.Scorer
}

// Orchestrator runs the per-record enrichment state machine: resolve source
// and key, consult the cache, then call the source if its breaker and pacer
// allow. Enrich never returns an error; every outcome is expressed on the
// returned EnrichedAward.
type Orchestrator struct {
	cache         MetadataCache
	sources       map[string]*sourceState
	agencySources map[string]string
	metrics       *RunMetrics
	scorer        *match.Scorer
	callTimeout   time.Duration
}

// NewOrchestrator creates an orchestrator over the given metadata cache.
// Sources are registered separately with RegisterSource.
func NewOrchestrator(cache MetadataCache, cfg OrchestratorConfig) *Orchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	agencySources := cfg.AgencySources
	if agencySources == nil {
		agencySources = DefaultAgencySources()
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = match.MustScorer(match.DefaultWeights(), match.DefaultThresholds())
	}
	return &Orchestrator{
		cache:         cache,
		sources:       make(map[string]*sourceState),
		agencySources: agencySources,
		metrics:       NewRunMetrics(),
		scorer:        scorer,
		callTimeout:   cfg.CallTimeout,
	}
}

// RegisterSource wires a client plus its dedicated pacer and breaker under
// the given source code. Registering the same code twice replaces the
// previous wiring.
func (o *Orchestrator) RegisterSource(code string, client MetadataClient, pacer *resilience.Pacer, breaker *resilience.CircuitBreaker) {
	o.sources[code] = &sourceState{client: client, pacer: pacer, breaker: breaker}
}

// Metrics returns the orchestrator's run metrics accumulator.
func (o *Orchestrator) Metrics() *RunMetrics {
	return o.metrics
}

// BreakerStates returns the current circuit state per registered source.
func (o *Orchestrator) BreakerStates() map[string]resilience.CircuitState {
	states := make(map[string]resilience.CircuitState, len(o.sources))
	for code, s := range o.sources {
		states[code] = s.breaker.State()
	}
	return states
}

// Enrich runs the state machine for one award. The original award is always
// carried on the result; only the enrichment fields vary by outcome.
func (o *Orchestrator) Enrich(ctx context.Context, award model.Award) model.EnrichedAward {
	result := model.EnrichedAward{Award: award, Status: model.StatusNotAttempted}

	source := o.resolveSource(award)
	if source == "" {
		o.metrics.RecordNotAttempted()
		return result
	}

	key := resolveKey(award)
	if key == "" {
		o.metrics.RecordNotAttempted()
		return result
	}

	if cached, err := o.cache.GetMetadata(ctx, source, key); err != nil {
		// A broken cache read degrades to a miss rather than failing the record.
		zap.L().Warn("metadata cache read failed",
			zap.String("component", "enrich"),
			zap.String("source", source),
			zap.String("key", key),
			zap.Error(err))
	} else if cached != nil {
		o.metrics.RecordCacheHit(source)
		return o.enriched(award, key, cached)
	}
	o.metrics.RecordCacheMiss(source)

	state, ok := o.sources[source]
	if !ok {
		// Mapped agency but no client wired; nothing to call.
		result.Status = model.StatusFailed
		result.Source = source
		result.FailureReason = "no client registered for source"
		return result
	}

	if !state.breaker.Allow() {
		result.Status = model.StatusFailed
		result.Source = source
		result.FailureReason = ReasonCircuitOpen
		return result
	}

	if !state.pacer.Allow() {
		result.Status = model.StatusFailed
		result.Source = source
		result.FailureReason = ReasonRateLimited
		return result
	}

	state.pacer.Record()

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	meta, err := state.client.Lookup(callCtx, key)
	latency := time.Since(start)

	if err != nil {
		result.Status = model.StatusFailed
		result.Source = source
		if errors.Is(err, ErrNotFound) {
			// The source answered; this key simply has no record there.
			state.breaker.RecordSuccess()
			o.metrics.RecordCallSuccess(source, latency)
			result.FailureReason = ReasonNotFound
			return result
		}
		state.breaker.RecordFailure()
		o.metrics.RecordCallFailure(source, latency)
		result.FailureReason = err.Error()
		zap.L().Warn("metadata lookup failed",
			zap.String("component", "enrich"),
			zap.String("source", source),
			zap.String("key", key),
			zap.Duration("latency", latency),
			zap.Error(err))
		return result
	}

	state.breaker.RecordSuccess()
	o.metrics.RecordCallSuccess(source, latency)

	if err := o.cache.PutMetadata(ctx, source, key, meta); err != nil {
		zap.L().Warn("metadata cache write failed",
			zap.String("component", "enrich"),
			zap.String("source", source),
			zap.String("key", key),
			zap.Error(err))
	}

	meta.Source = source
	meta.Key = key
	return o.enriched(award, key, meta)
}

// enriched builds the success result, scoring how confidently the metadata
// matches the award.
func (o *Orchestrator) enriched(award model.Award, key string, meta *model.ExternalMetadata) model.EnrichedAward {
	retrieved := meta.RetrievedAt
	score := o.scorer.Score(matchFactors(award, key, meta))
	return model.EnrichedAward{
		Award:           award,
		Status:          model.StatusEnriched,
		Description:     meta.Description,
		Keywords:        meta.Keywords,
		Source:          meta.Source,
		RetrievedAt:     &retrieved,
		MatchConfidence: score,
		MatchLevel:      string(o.scorer.Level(score)),
	}
}

// matchFactors derives scoring factors from how the record was looked up
// and what the source returned. Identifier-keyed hits are exact by
// construction; name evidence comes from the source's organization name
// when it reports one.
func matchFactors(award model.Award, key string, meta *model.ExternalMetadata) match.Factors {
	f := match.Factors{
		UEIExact:         award.UEI != "" && key == award.UEI,
		AwardNumberExact: award.AwardNumber != "" && key == award.AwardNumber,
	}
	if award.RecipientName != "" && meta.OrgName != "" {
		f.NameExact = match.NormalizeName(award.RecipientName) == match.NormalizeName(meta.OrgName)
		if !f.NameExact {
			f.NameSimilarity = match.Similarity(award.RecipientName, meta.OrgName)
		}
	}
	return f
}
