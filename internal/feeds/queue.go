// Package feeds handles late-arriving award files: agencies occasionally
// publish corrections outside the bulk archive cycle, which are queued here
// and reconciled into the store on demand.
package feeds

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/fetcher"
	"github.com/sells-group/awardsync/internal/ingest"
	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/runlog"
)

// FeedStatus is a feed's lifecycle state in the manifest.
type FeedStatus string

const (
	// StatusPending means the feed is queued and not yet processed.
	StatusPending FeedStatus = "pending"
	// StatusProcessed means the feed's records were ingested.
	StatusProcessed FeedStatus = "processed"
	// StatusFailed is permanent until the feed is re-enqueued.
	StatusFailed FeedStatus = "failed"
)

// PendingFeed is one queued feed file.
type PendingFeed struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	PeriodID    string     `json:"period_id"`
	FileRef     string     `json:"file_ref"`
	Status      FeedStatus `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ReconciliationReport summarizes one ProcessPending run. It is also
// appended to the reconciliation run log.
type ReconciliationReport struct {
	RunID           string    `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`
	FeedsProcessed  int       `json:"feeds_processed"`
	FeedsFailed     int       `json:"feeds_failed"`
	RecordsIngested int       `json:"records_ingested"`
	DuplicatesFound int       `json:"duplicates_found"`
	Errors          []string  `json:"errors,omitempty"`
}

// RecordSink receives the surviving feed records. store.Store satisfies it.
type RecordSink interface {
	UpsertAwards(ctx context.Context, awards []model.Award) (int, error)
}

// manifest is the on-disk shape of the pending feeds file. Unlike the run
// logs, feed statuses are updated in place.
type manifest struct {
	Feeds       []PendingFeed `json:"feeds"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Queue manages the pending feeds manifest. Safe for concurrent use within
// one process.
type Queue struct {
	manifestPath string
	reportLog    *runlog.Log
	sink         RecordSink

	mu sync.Mutex
}

// NewQueue creates a Queue persisting to manifestPath, ingesting into sink,
// and appending reconciliation reports to reportLog.
func NewQueue(manifestPath string, sink RecordSink, reportLog *runlog.Log) *Queue {
	return &Queue{manifestPath: manifestPath, reportLog: reportLog, sink: sink}
}

// Enqueue appends a pending feed to the manifest. Re-enqueueing the same
// file produces a fresh pending entry; it does not resurrect a failed one.
func (q *Queue) Enqueue(ctx context.Context, source, periodID, fileRef string) (*PendingFeed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return nil, err
	}

	feed := PendingFeed{
		ID:         uuid.NewString(),
		Source:     source,
		PeriodID:   periodID,
		FileRef:    fileRef,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
	}
	m.Feeds = append(m.Feeds, feed)
	if err := q.store(m); err != nil {
		return nil, err
	}

	zap.L().Info("feed enqueued",
		zap.String("component", "feeds"),
		zap.String("feed_id", feed.ID),
		zap.String("source", source),
		zap.String("period_id", periodID))
	return &feed, nil
}

// List returns all manifest entries, newest last.
func (q *Queue) List() ([]PendingFeed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return nil, err
	}
	return m.Feeds, nil
}

// ProcessPending parses and ingests every pending feed, marking each
// processed or failed, and reports the run. Failed feeds stay failed until
// re-enqueued.
func (q *Queue) ProcessPending(ctx context.Context) (*ReconciliationReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{RunID: uuid.NewString(), Timestamp: time.Now()}

	for i := range m.Feeds {
		feed := &m.Feeds[i]
		if feed.Status != StatusPending {
			continue
		}

		ingested, duplicates, err := q.processFeed(ctx, feed)
		now := time.Now()
		feed.ProcessedAt = &now
		if err != nil {
			feed.Status = StatusFailed
			feed.Error = err.Error()
			report.FeedsFailed++
			report.Errors = append(report.Errors, feed.ID+": "+err.Error())
			zap.L().Error("feed processing failed",
				zap.String("component", "feeds"),
				zap.String("feed_id", feed.ID),
				zap.Error(err))
			continue
		}

		feed.Status = StatusProcessed
		report.FeedsProcessed++
		report.RecordsIngested += ingested
		report.DuplicatesFound += duplicates
	}

	if err := q.store(m); err != nil {
		return nil, err
	}
	if err := q.reportLog.Append(report); err != nil {
		return report, eris.Wrap(err, "feeds: append reconciliation report")
	}
	return report, nil
}

// processFeed parses one feed file and ingests its deduplicated records.
// Within a feed's batch the first occurrence of a (record id, source) pair
// wins; later duplicates are counted and dropped.
func (q *Queue) processFeed(ctx context.Context, feed *PendingFeed) (ingested, duplicates int, err error) {
	rows, err := readFeedRows(ctx, feed.FileRef)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, eris.Errorf("feeds: %s is empty", feed.FileRef)
	}

	mapper, err := ingest.NewRowMapper(rows[0])
	if err != nil {
		return 0, 0, err
	}

	seen := make(map[string]bool)
	var awards []model.Award
	for _, row := range rows[1:] {
		award, err := mapper.Award(row, feed.PeriodID)
		if err != nil {
			continue
		}
		dedupeKey := award.ID + "\x00" + feed.Source
		if seen[dedupeKey] {
			duplicates++
			continue
		}
		seen[dedupeKey] = true
		awards = append(awards, award)
	}

	if len(awards) == 0 {
		return 0, duplicates, eris.Errorf("feeds: %s produced no valid records", feed.FileRef)
	}
	n, err := q.sink.UpsertAwards(ctx, awards)
	if err != nil {
		return 0, duplicates, eris.Wrap(err, "feeds: upsert records")
	}
	return n, duplicates, nil
}

// readFeedRows parses the feed file into rows, choosing the parser by
// extension: .xlsx via the workbook reader, everything else as CSV.
func readFeedRows(ctx context.Context, fileRef string) ([][]string, error) {
	if strings.ToLower(filepath.Ext(fileRef)) == ".xlsx" {
		return fetcher.ReadXLSX(fileRef)
	}

	f, err := os.Open(fileRef)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: open %s", fileRef)
	}
	defer f.Close() //nolint:errcheck

	var rows [][]string
	err = fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true}, func(header, row []string) error {
		if len(rows) == 0 {
			rows = append(rows, header)
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// load reads the manifest, tolerating a missing file.
func (q *Queue) load() (*manifest, error) {
	data, err := os.ReadFile(q.manifestPath)
	if os.IsNotExist(err) {
		return &manifest{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "feeds: read manifest")
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "feeds: parse manifest")
	}
	return &m, nil
}

// store writes the manifest atomically.
func (q *Queue) store(m *manifest) error {
	m.LastUpdated = time.Now()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return eris.Wrap(err, "feeds: encode manifest")
	}

	tmp := q.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return eris.Wrap(err, "feeds: write manifest")
	}
	if err := os.Rename(tmp, q.manifestPath); err != nil {
		return eris.Wrap(err, "feeds: replace manifest")
	}
	return nil
}
