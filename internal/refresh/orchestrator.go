package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/archive"
	"github.com/sells-group/awardsync/internal/runlog"
)

// IngestResult reports what one period's ingestion produced.
type IngestResult struct {
	RecordsIngested   int                `json:"records_ingested"`
	MalformedRows     int                `json:"malformed_rows"`
	FieldCompleteness map[string]float64 `json:"field_completeness,omitempty"`
}

// Ingestor is the ingestion boundary invoked after each successful or
// cache-fallback acquisition.
type Ingestor interface {
	Ingest(ctx context.Context, periodID, archivePath string) (IngestResult, error)
}

// Acquirer is the archive acquisition boundary. *archive.Manager satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, sourceURL, periodID string) (string, *archive.RetryLog, error)
}

// PeriodError is one period's failure within an otherwise continuing run.
type PeriodError struct {
	PeriodID string `json:"period_id"`
	Error    string `json:"error"`
}

// Manifest is the durable record of one refresh run, appended to the
// manifest run log whatever the outcome.
type Manifest struct {
	RunID             string             `json:"run_id"`
	Scope             Scope              `json:"scope"`
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        time.Time          `json:"finished_at"`
	RecordsProcessed  int                `json:"records_processed"`
	MalformedRows     int                `json:"malformed_rows"`
	MalformedRatio    float64            `json:"malformed_ratio"`
	FieldCompleteness map[string]float64 `json:"field_completeness,omitempty"`
	PeriodsUpdated    []string           `json:"periods_updated"`
	Errors            []PeriodError      `json:"errors,omitempty"`
}

// auditEntry records a scope decision before the run does any work.
type auditEntry struct {
	RunID     string    `json:"run_id"`
	Scope     Scope     `json:"scope"`
	Timestamp time.Time `json:"timestamp"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	// URLForPeriod maps a period id to its archive source URL.
	URLForPeriod func(periodID string) string

	// AuditLog receives scope decisions; ManifestLog receives run manifests.
	AuditLog    *runlog.Log
	ManifestLog *runlog.Log
}

// Orchestrator runs refreshes over a period range. A failure in one period
// never aborts the rest of the scope; errors accumulate on the manifest.
type Orchestrator struct {
	acquirer Acquirer
	ingestor Ingestor
	cfg      Config

	nowFunc func() time.Time
}

// NewOrchestrator creates a refresh orchestrator.
func NewOrchestrator(acquirer Acquirer, ingestor Ingestor, cfg Config) *Orchestrator {
	return &Orchestrator{acquirer: acquirer, ingestor: ingestor, cfg: cfg, nowFunc: time.Now}
}

// Execute validates the scope, audits the decision, then acquires and
// ingests each period in turn. The returned manifest is also appended to
// the manifest run log.
func (o *Orchestrator) Execute(ctx context.Context, scope Scope) (*Manifest, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		RunID:     uuid.NewString(),
		Scope:     scope,
		StartedAt: o.nowFunc(),
	}

	// The mode decision is audited before any work, independent of whether
	// the run ultimately succeeds.
	if err := o.cfg.AuditLog.Append(auditEntry{
		RunID:     manifest.RunID,
		Scope:     scope,
		Timestamp: manifest.StartedAt,
	}); err != nil {
		return nil, eris.Wrap(err, "refresh: audit scope decision")
	}

	zap.L().Info("starting refresh run",
		zap.String("component", "refresh"),
		zap.String("run_id", manifest.RunID),
		zap.Int("period_start", scope.PeriodStart),
		zap.Int("period_end", scope.PeriodEnd),
		zap.String("mode", string(scope.Mode)))

	completeness := make(map[string]float64)
	var completenessRecords int

	for _, periodID := range scope.Periods() {
		result, err := o.refreshPeriod(ctx, periodID)
		if err != nil {
			zap.L().Error("period refresh failed",
				zap.String("component", "refresh"),
				zap.String("run_id", manifest.RunID),
				zap.String("period_id", periodID),
				zap.Error(err))
			manifest.Errors = append(manifest.Errors, PeriodError{PeriodID: periodID, Error: err.Error()})
			continue
		}

		manifest.PeriodsUpdated = append(manifest.PeriodsUpdated, periodID)
		manifest.RecordsProcessed += result.RecordsIngested
		manifest.MalformedRows += result.MalformedRows
		for field, rate := range result.FieldCompleteness {
			completeness[field] += rate * float64(result.RecordsIngested)
		}
		completenessRecords += result.RecordsIngested
	}

	if total := manifest.RecordsProcessed + manifest.MalformedRows; total > 0 {
		manifest.MalformedRatio = float64(manifest.MalformedRows) / float64(total)
	}
	if completenessRecords > 0 {
		manifest.FieldCompleteness = make(map[string]float64, len(completeness))
		for field, weighted := range completeness {
			manifest.FieldCompleteness[field] = weighted / float64(completenessRecords)
		}
	}
	manifest.FinishedAt = o.nowFunc()

	if err := o.cfg.ManifestLog.Append(manifest); err != nil {
		return manifest, eris.Wrap(err, "refresh: append manifest")
	}
	return manifest, nil
}

func (o *Orchestrator) refreshPeriod(ctx context.Context, periodID string) (IngestResult, error) {
	sourceURL := o.cfg.URLForPeriod(periodID)
	path, _, err := o.acquirer.Acquire(ctx, sourceURL, periodID)
	if err != nil {
		return IngestResult{}, err
	}
	return o.ingestor.Ingest(ctx, periodID, path)
}
