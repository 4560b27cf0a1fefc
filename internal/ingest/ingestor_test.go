package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/awardsync/internal/store"
)

const sampleCSV = `record_id,agency,uei,award_number,recipient_name,amount_usd
a1,NIH,UEI001,R01-123,Acme Research LLC,50000
a2,NSF,,2105123,Beta University,75000
a3,NIH,UEI003,,Gamma Institute,
,NIH,UEI004,R01-999,No Id Corp,100
a5,,UEI005,R01-888,No Agency Inc,200
`

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "awardsync.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func writeSampleCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "awards_2024.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))
	return path
}

func TestIngestCSV(t *testing.T) {
	s := newTestStore(t)
	in := NewCSVIngestor(s)

	result, err := in.Ingest(context.Background(), "2024", writeSampleCSV(t))
	require.NoError(t, err)

	assert.Equal(t, 3, result.RecordsIngested)
	assert.Equal(t, 2, result.MalformedRows)
	assert.InDelta(t, 2.0/3.0, result.FieldCompleteness["uei"], 1e-9)
	assert.InDelta(t, 1.0, result.FieldCompleteness["recipient_name"], 1e-9)

	count, err := s.CountAwards(context.Background(), "2024")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIngestZIP(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "awards_2024.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("awards_2024.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	s := newTestStore(t)
	result, err := NewCSVIngestor(s).Ingest(context.Background(), "2024", zipPath)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RecordsIngested)
}

func TestIngestZIPWithoutCSVFails(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "junk.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nothing here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = NewCSVIngestor(newTestStore(t)).Ingest(context.Background(), "2024", zipPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no csv files")
}

func TestIngestIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	in := NewCSVIngestor(s)
	path := writeSampleCSV(t)

	_, err := in.Ingest(context.Background(), "2024", path)
	require.NoError(t, err)
	_, err = in.Ingest(context.Background(), "2024", path)
	require.NoError(t, err)

	count, err := s.CountAwards(context.Background(), "2024")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRowMapperAliases(t *testing.T) {
	m, err := NewRowMapper([]string{"Award ID", "Awarding Agency Code", "Recipient UEI", "Federal Action Obligation"})
	require.NoError(t, err)

	a, err := m.Award([]string{"x1", "nsf", "UEI123", "1,234.50"}, "2023")
	require.NoError(t, err)
	assert.Equal(t, "x1", a.ID)
	assert.Equal(t, "NSF", a.AgencyCode)
	assert.Equal(t, "UEI123", a.UEI)
	assert.InDelta(t, 1234.50, a.AmountUSD, 1e-9)
	assert.Equal(t, "2023", a.PeriodID)
}

func TestRowMapperRequiresIDColumn(t *testing.T) {
	_, err := NewRowMapper([]string{"agency", "uei"})
	require.Error(t, err)
}

func TestRowMapperBadAmount(t *testing.T) {
	m, err := NewRowMapper([]string{"id", "agency", "amount"})
	require.NoError(t, err)

	_, err = m.Award([]string{"a1", "NIH", "not-a-number"}, "2024")
	require.Error(t, err)
}
