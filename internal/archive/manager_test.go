package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/awardsync/internal/runlog"
)

// scriptedFetcher fails a set number of attempts before succeeding.
type scriptedFetcher struct {
	failures int
	calls    int
	payload  string
}

func (f *scriptedFetcher) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, eris.New("not used")
}

func (f *scriptedFetcher) DownloadToFile(_ context.Context, _ string, path string) (int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, eris.New("connection reset")
	}
	if err := os.WriteFile(path, []byte(f.payload), 0o600); err != nil {
		return 0, err
	}
	return int64(len(f.payload)), nil
}

func newTestManager(t *testing.T, f *scriptedFetcher, window time.Duration) (*Manager, *runlog.Log, string) {
	t.Helper()
	dir := t.TempDir()
	log := runlog.New(filepath.Join(dir, "archive_retries.json"), "retries")
	m := NewManager(f, log, Config{
		CacheDir:       filepath.Join(dir, "cache"),
		AlertsDir:      filepath.Join(dir, "alerts"),
		RetryWindow:    window,
		RetryInterval:  time.Millisecond,
		AttemptTimeout: time.Second,
	})
	return m, log, dir
}

func alertFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "alerts"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAcquireFirstAttemptSucceeds(t *testing.T) {
	f := &scriptedFetcher{payload: "zipbytes"}
	m, log, dir := newTestManager(t, f, time.Minute)

	path, retryLog, err := m.Acquire(context.Background(), "https://data.example.gov/awards_2024Q1.zip", "2024Q1")
	require.NoError(t, err)

	assert.Equal(t, "awards_2024Q1.zip", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(data))

	assert.Equal(t, FinalStatusSuccess, retryLog.FinalStatus)
	require.Len(t, retryLog.Attempts, 1)
	assert.True(t, retryLog.Attempts[0].Success)

	n, err := log.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, alertFiles(t, dir))
}

func TestAcquireRetriesUntilSuccess(t *testing.T) {
	f := &scriptedFetcher{failures: 2, payload: "zipbytes"}
	m, _, _ := newTestManager(t, f, time.Minute)

	_, retryLog, err := m.Acquire(context.Background(), "https://data.example.gov/a.zip", "2024Q1")
	require.NoError(t, err)

	assert.Equal(t, FinalStatusSuccess, retryLog.FinalStatus)
	require.Len(t, retryLog.Attempts, 3)
	for i, a := range retryLog.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, i == 2, a.Success)
	}
}

func TestAcquireFallsBackToCache(t *testing.T) {
	f := &scriptedFetcher{failures: 1 << 30}
	m, log, dir := newTestManager(t, f, 5*time.Millisecond)

	// Pre-seed two cached archives; the newer one must win.
	periodDir := filepath.Join(dir, "cache", "2024Q1")
	require.NoError(t, os.MkdirAll(periodDir, 0o755))
	old := filepath.Join(periodDir, "awards_old.zip")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o600))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))
	fresh := filepath.Join(periodDir, "awards_fresh.zip")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0o600))

	path, retryLog, err := m.Acquire(context.Background(), "https://data.example.gov/a.zip", "2024Q1")
	require.NoError(t, err)

	assert.Equal(t, fresh, path)
	assert.Equal(t, FinalStatusCacheFallback, retryLog.FinalStatus)
	assert.NotEmpty(t, retryLog.Attempts)

	n, err := log.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := alertFiles(t, dir)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alert_"+retryLog.LogID+".txt", alerts[0])

	body, err := os.ReadFile(filepath.Join(dir, "alerts", alerts[0]))
	require.NoError(t, err)
	assert.Contains(t, string(body), "cache_fallback")
	assert.Contains(t, string(body), "Recommended action")
}

func TestAcquireFailsWithoutCache(t *testing.T) {
	f := &scriptedFetcher{failures: 1 << 30}
	m, log, dir := newTestManager(t, f, 5*time.Millisecond)

	_, retryLog, err := m.Acquire(context.Background(), "https://data.example.gov/a.zip", "2024Q1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached fallback")
	assert.Equal(t, FinalStatusFailed, retryLog.FinalStatus)

	n, logErr := log.Len()
	require.NoError(t, logErr)
	assert.Equal(t, 1, n)
	assert.Len(t, alertFiles(t, dir), 1)
}

func TestAcquireStopsOnContextCancel(t *testing.T) {
	f := &scriptedFetcher{failures: 1 << 30}
	m, _, _ := newTestManager(t, f, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, retryLog, err := m.Acquire(ctx, "https://data.example.gov/a.zip", "2024Q1")
	require.Error(t, err)
	assert.Equal(t, FinalStatusFailed, retryLog.FinalStatus)
	// The cancelled context stops the retry loop after the first attempt.
	assert.Len(t, retryLog.Attempts, 1)
}

func TestAcquireLogIsCumulative(t *testing.T) {
	f := &scriptedFetcher{payload: "x"}
	m, log, _ := newTestManager(t, f, time.Minute)

	for _, period := range []string{"2024Q1", "2024Q2", "2024Q3"} {
		_, _, err := m.Acquire(context.Background(), "https://data.example.gov/"+period+".zip", period)
		require.NoError(t, err)
	}

	var entries []RetryLog
	require.NoError(t, log.Read(&entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "2024Q2", entries[1].PeriodID)
	assert.True(t, strings.HasSuffix(entries[2].Path, "2024Q3.zip"))
}
