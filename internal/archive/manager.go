// Package archive acquires period bulk archives from flaky publication
// endpoints, retrying within a bounded window and falling back to a local
// archive cache when the window is exhausted.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/fetcher"
	"github.com/sells-group/awardsync/internal/runlog"
)

// Final acquisition outcomes recorded on a RetryLog.
const (
	FinalStatusSuccess       = "success"
	FinalStatusCacheFallback = "cache_fallback"
	FinalStatusFailed        = "failed"
)

// Attempt is one download try within an acquisition.
type Attempt struct {
	Number    int       `json:"number"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RetryLog is the full record of one acquisition, appended to the
// cumulative archive retry run log whatever the outcome.
type RetryLog struct {
	LogID       string    `json:"log_id"`
	SourceURL   string    `json:"source_url"`
	PeriodID    string    `json:"period_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Attempts    []Attempt `json:"attempts"`
	FinalStatus string    `json:"final_status"`
	Path        string    `json:"path,omitempty"`
}

// Config controls acquisition behavior. All durations are externally
// supplied; zero values take the defaults below.
type Config struct {
	// CacheDir is the root of the local archive cache. Downloads land in
	// <CacheDir>/<period_id>/; the newest file by mtime is the fallback.
	CacheDir string

	// AlertsDir receives operator alert artifacts for non-success outcomes.
	// Defaults to CacheDir.
	AlertsDir string

	// RetryWindow bounds the whole acquisition. Default: 15m.
	RetryWindow time.Duration

	// RetryInterval is the sleep between attempts. Default: 30s.
	RetryInterval time.Duration

	// AttemptTimeout bounds each individual download. Default: 2m.
	AttemptTimeout time.Duration
}

// Manager acquires archives with deadline-bounded retry. One Manager may
// serve concurrent acquisitions for different periods; the run log
// serializes its own writes.
type Manager struct {
	fetcher fetcher.Fetcher
	log     *runlog.Log
	cfg     Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewManager creates a Manager over the given fetcher and retry run log.
func NewManager(f fetcher.Fetcher, log *runlog.Log, cfg Config) *Manager {
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 15 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	if cfg.AlertsDir == "" {
		cfg.AlertsDir = cfg.CacheDir
	}
	return &Manager{fetcher: f, log: log, cfg: cfg, nowFunc: time.Now}
}

// Acquire downloads the archive at sourceURL for the given period. It
// retries until the retry window closes, then falls back to the newest
// cached archive for the period if one exists. The returned RetryLog is
// also appended to the cumulative run log; non-success outcomes
// additionally write an operator alert artifact.
func (m *Manager) Acquire(ctx context.Context, sourceURL, periodID string) (string, *RetryLog, error) {
	log := &RetryLog{
		LogID:     uuid.NewString(),
		SourceURL: sourceURL,
		PeriodID:  periodID,
		StartedAt: m.nowFunc(),
	}
	deadline := log.StartedAt.Add(m.cfg.RetryWindow)

	periodDir := filepath.Join(m.cfg.CacheDir, periodID)
	if err := os.MkdirAll(periodDir, 0o755); err != nil {
		return "", log, eris.Wrap(err, "archive: create cache dir")
	}

	for attempt := 1; ; attempt++ {
		path, err := m.tryDownload(ctx, sourceURL, periodDir)
		log.Attempts = append(log.Attempts, Attempt{
			Number:    attempt,
			Timestamp: m.nowFunc(),
			Success:   err == nil,
			Error:     errString(err),
		})

		if err == nil {
			log.FinalStatus = FinalStatusSuccess
			log.Path = path
			m.finish(log)
			return path, log, nil
		}

		zap.L().Warn("archive download attempt failed",
			zap.String("component", "archive"),
			zap.String("period_id", periodID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		// The deadline is a hard ceiling: once passed, stop even if one
		// more attempt might have succeeded.
		if !m.nowFunc().Before(deadline) {
			break
		}
		if err := m.sleep(ctx, m.cfg.RetryInterval); err != nil {
			break
		}
	}

	if cached, err := m.newestCached(periodID); err == nil && cached != "" {
		log.FinalStatus = FinalStatusCacheFallback
		log.Path = cached
		m.finish(log)
		m.writeAlert(log, fmt.Sprintf(
			"Archive download for period %s exhausted its retry window; serving the cached archive at %s.\n"+
				"Recommended action: verify %s is reachable and re-run the refresh for this period to pick up current data.\n",
			periodID, cached, sourceURL))
		return cached, log, nil
	}

	log.FinalStatus = FinalStatusFailed
	m.finish(log)
	m.writeAlert(log, fmt.Sprintf(
		"Archive download for period %s exhausted its retry window and no cached archive exists.\n"+
			"Recommended action: check %s manually, place the archive under %s, and re-run the refresh for this period.\n",
		periodID, sourceURL, periodDir))
	return "", log, eris.Errorf("archive: acquisition failed for period %s after %d attempts, no cached fallback", periodID, len(log.Attempts))
}

// tryDownload runs one bounded download attempt into the period cache dir.
func (m *Manager) tryDownload(ctx context.Context, sourceURL, periodDir string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()

	dest := filepath.Join(periodDir, archiveFilename(sourceURL))
	tmp := dest + ".partial"
	if _, err := m.fetcher.DownloadToFile(attemptCtx, sourceURL, tmp); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", eris.Wrap(err, "archive: finalize download")
	}
	return dest, nil
}

// newestCached returns the newest cached archive for the period by mtime,
// or "" when none exists.
func (m *Manager) newestCached(periodID string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(m.cfg.CacheDir, periodID))
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".partial" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(m.cfg.CacheDir, periodID, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}

// finish stamps and appends the log entry; run-log failures are logged, not
// fatal, since the acquisition outcome already stands.
func (m *Manager) finish(log *RetryLog) {
	log.FinishedAt = m.nowFunc()
	if err := m.log.Append(log); err != nil {
		zap.L().Error("failed to append archive retry log",
			zap.String("component", "archive"),
			zap.String("log_id", log.LogID),
			zap.Error(err))
	}
}

// writeAlert drops a standalone operator alert artifact named by the log id.
func (m *Manager) writeAlert(log *RetryLog, action string) {
	if err := os.MkdirAll(m.cfg.AlertsDir, 0o755); err != nil {
		zap.L().Error("failed to create alerts dir", zap.String("component", "archive"), zap.Error(err))
		return
	}
	body := fmt.Sprintf("ALERT %s\nperiod: %s\nsource: %s\nstatus: %s\nattempts: %d\n\n%s",
		log.LogID, log.PeriodID, log.SourceURL, log.FinalStatus, len(log.Attempts), action)
	path := filepath.Join(m.cfg.AlertsDir, "alert_"+log.LogID+".txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		zap.L().Error("failed to write alert artifact",
			zap.String("component", "archive"),
			zap.String("path", path),
			zap.Error(err))
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// archiveFilename derives a cache filename from the source URL path,
// falling back to a fixed name for opaque URLs.
func archiveFilename(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return "archive.zip"
	}
	return path.Base(u.Path)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
