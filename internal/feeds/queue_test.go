package feeds

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/runlog"
)

// memSink collects upserted awards in memory.
type memSink struct {
	mu     sync.Mutex
	awards []model.Award
	err    error
}

func (s *memSink) UpsertAwards(_ context.Context, awards []model.Award) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.awards = append(s.awards, awards...)
	return len(awards), nil
}

func newTestQueue(t *testing.T) (*Queue, *memSink, *runlog.Log) {
	t.Helper()
	dir := t.TempDir()
	sink := &memSink{}
	reports := runlog.New(filepath.Join(dir, "reconciliation_reports.json"), "reports")
	q := NewQueue(filepath.Join(dir, "pending_feeds.json"), sink, reports)
	return q, sink, reports
}

func writeFeedCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEnqueuePersistsAcrossHandles(t *testing.T) {
	q, sink, reports := newTestQueue(t)

	feed, err := q.Enqueue(context.Background(), "nih", "2024Q1", "/data/feed.csv")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, feed.Status)
	assert.NotEmpty(t, feed.ID)

	// A fresh Queue over the same manifest sees the entry.
	q2 := NewQueue(q.manifestPath, sink, reports)
	feeds, err := q2.List()
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, feed.ID, feeds[0].ID)
}

func TestProcessPendingIngestsAndDeduplicates(t *testing.T) {
	q, sink, _ := newTestQueue(t)

	path := writeFeedCSV(t, "record_id,agency,uei,recipient_name\n"+
		"a1,NIH,UEI001,Acme\n"+
		"a2,NIH,UEI002,Beta\n"+
		"a1,NIH,UEI001,Acme Duplicate\n")
	_, err := q.Enqueue(context.Background(), "nih", "2024Q1", path)
	require.NoError(t, err)

	report, err := q.ProcessPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.FeedsProcessed)
	assert.Equal(t, 2, report.RecordsIngested)
	assert.Equal(t, 1, report.DuplicatesFound)
	assert.Empty(t, report.Errors)

	require.Len(t, sink.awards, 2)
	// First occurrence wins.
	assert.Equal(t, "Acme", sink.awards[0].RecipientName)
	assert.Equal(t, "2024Q1", sink.awards[0].PeriodID)

	feeds, err := q.List()
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, feeds[0].Status)
	assert.NotNil(t, feeds[0].ProcessedAt)
}

func TestProcessPendingXLSX(t *testing.T) {
	q, sink, _ := newTestQueue(t)

	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("awards")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"record_id", "agency", "recipient_name"},
		{"x1", "NSF", "Gamma"},
		{"x2", "NSF", "Delta"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(t.TempDir(), "feed.xlsx")
	require.NoError(t, wb.Save(path))

	_, err = q.Enqueue(context.Background(), "nsf", "2024Q2", path)
	require.NoError(t, err)

	report, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.RecordsIngested)
	assert.Len(t, sink.awards, 2)
}

func TestProcessPendingMarksFailedPermanently(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), "nih", "2024Q1", "/does/not/exist.csv")
	require.NoError(t, err)

	report, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FeedsFailed)
	require.Len(t, report.Errors, 1)

	feeds, err := q.List()
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, feeds[0].Status)
	assert.NotEmpty(t, feeds[0].Error)

	// A second run does not retry the failed feed.
	report, err = q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.FeedsFailed)
	assert.Zero(t, report.FeedsProcessed)
}

func TestProcessPendingSinkErrorFailsFeed(t *testing.T) {
	q, sink, _ := newTestQueue(t)
	sink.err = eris.New("database unavailable")

	path := writeFeedCSV(t, "record_id,agency\na1,NIH\n")
	_, err := q.Enqueue(context.Background(), "nih", "2024Q1", path)
	require.NoError(t, err)

	report, err := q.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FeedsFailed)
}

func TestProcessPendingAppendsReport(t *testing.T) {
	q, _, reports := newTestQueue(t)

	path := writeFeedCSV(t, "record_id,agency\na1,NIH\n")
	_, err := q.Enqueue(context.Background(), "nih", "2024Q1", path)
	require.NoError(t, err)

	_, err = q.ProcessPending(context.Background())
	require.NoError(t, err)
	_, err = q.ProcessPending(context.Background())
	require.NoError(t, err)

	var entries []ReconciliationReport
	require.NoError(t, reports.Read(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].FeedsProcessed)
	assert.Zero(t, entries[1].FeedsProcessed)
}
