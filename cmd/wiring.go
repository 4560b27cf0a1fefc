package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/archive"
	"github.com/sells-group/awardsync/internal/config"
	"github.com/sells-group/awardsync/internal/enrich"
	"github.com/sells-group/awardsync/internal/fetcher"
	"github.com/sells-group/awardsync/internal/match"
	"github.com/sells-group/awardsync/internal/resilience"
	"github.com/sells-group/awardsync/internal/runlog"
	"github.com/sells-group/awardsync/internal/store"
	"github.com/sells-group/awardsync/pkg/nsfapi"
	"github.com/sells-group/awardsync/pkg/reporter"
)

// openStore opens the configured store backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var s store.Store
	var err error
	switch cfg.Store.Driver {
	case "sqlite", "":
		s, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		s, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// dataLog opens a run log under the configured data directory.
func dataLog(name, arrayKey string) (*runlog.Log, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "create data dir")
	}
	return runlog.New(filepath.Join(cfg.Data.Dir, name), arrayKey), nil
}

// newOrchestrator wires the enrichment orchestrator: one client, pacer, and
// breaker per configured source, scoring matches with the configured weights.
func newOrchestrator(s store.Store) (*enrich.Orchestrator, error) {
	scorer, err := match.NewScorer(match.Weights{
		UEIExact:          cfg.Scorer.UEIExact,
		NameExact:         cfg.Scorer.NameExact,
		NameSimilarity:    cfg.Scorer.NameSimilarity,
		AwardNumberExact:  cfg.Scorer.AwardNumberExact,
		AddressSimilarity: cfg.Scorer.AddressSimilarity,
	}, match.Thresholds{
		Medium: cfg.Scorer.MediumThreshold,
		High:   cfg.Scorer.HighThreshold,
	})
	if err != nil {
		return nil, err
	}
	o := enrich.NewOrchestrator(s, enrich.OrchestratorConfig{
		CallTimeout:   time.Duration(cfg.Enrich.CallTimeoutSecs) * time.Second,
		AgencySources: cfg.Agency.Sources,
		Scorer:        scorer,
	})
	for code, sc := range cfg.Sources {
		client := clientFor(code, sc)
		if client == nil {
			continue
		}
		o.RegisterSource(code, client,
			resilience.NewPacer(sc.RequestsPerPeriod, time.Duration(sc.PeriodSecs)*time.Second),
			resilience.NewCircuitBreaker(
				resilience.FromCircuitConfig(sc.FailureThreshold, sc.RecoveryTimeoutSecs)))
	}
	return o, nil
}

// clientFor builds the metadata client for a source code. Unknown codes are
// skipped so config can carry sources this build has no client for.
func clientFor(code string, sc config.SourceConfig) enrich.MetadataClient {
	switch code {
	case "nih":
		return reporter.NewClient(reporter.WithBaseURL(sc.BaseURL))
	case "nsf":
		return nsfapi.NewClient(nsfapi.WithBaseURL(sc.BaseURL))
	default:
		return nil
	}
}

// newArchiveManager wires the archive retry manager over a scheme-routing
// fetcher and the archive retry run log.
func newArchiveManager() (*archive.Manager, error) {
	log, err := dataLog("archive_retries.json", "retries")
	if err != nil {
		return nil, err
	}
	f := fetcher.NewMultiFetcher(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			Retry: resilience.FromRetryConfig(
				cfg.Fetch.RetryMaxAttempts,
				cfg.Fetch.RetryInitialBackoffMs,
				cfg.Fetch.RetryMaxBackoffMs,
				cfg.Fetch.RetryMultiplier,
				cfg.Fetch.RetryJitterFraction),
		}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	)
	return archive.NewManager(f, log, archive.Config{
		CacheDir:       cfg.Archive.CacheDir,
		AlertsDir:      cfg.Archive.AlertsDir,
		RetryWindow:    time.Duration(cfg.Archive.RetryWindowSecs) * time.Second,
		RetryInterval:  time.Duration(cfg.Archive.RetryIntervalSecs) * time.Second,
		AttemptTimeout: time.Duration(cfg.Archive.AttemptTimeoutSecs) * time.Second,
	}), nil
}
