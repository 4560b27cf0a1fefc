package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/awardsync/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_MetadataRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	err := s.PutMetadata(ctx, "nih", "R01CA123456", &model.ExternalMetadata{
		Description: "Tumor microenvironment study",
		Keywords:    []string{"oncology", "immunology"},
		OrgName:     "Acme Research LLC",
	})
	require.NoError(t, err)

	got, err := s.GetMetadata(ctx, "nih", "R01CA123456")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nih", got.Source)
	assert.Equal(t, "R01CA123456", got.Key)
	assert.Equal(t, "Tumor microenvironment study", got.Description)
	assert.Equal(t, []string{"oncology", "immunology"}, got.Keywords)
	assert.Equal(t, "Acme Research LLC", got.OrgName)
	assert.False(t, got.RetrievedAt.IsZero())
}

func TestSQLite_GetMetadataMiss(t *testing.T) {
	s := newTestSQLite(t)

	got, err := s.GetMetadata(context.Background(), "nsf", "0000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_PutMetadataLastWriteWins(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.PutMetadata(ctx, "nih", "K99", &model.ExternalMetadata{Description: "old", Keywords: []string{"a"}}))
	require.NoError(t, s.PutMetadata(ctx, "nih", "K99", &model.ExternalMetadata{Description: "new", Keywords: []string{"b", "c"}}))

	got, err := s.GetMetadata(ctx, "nih", "K99")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, []string{"b", "c"}, got.Keywords)

	stats, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries, "overwrite must not duplicate the row")
}

func TestSQLite_KeysAreSourceScoped(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.PutMetadata(ctx, "nih", "X1", &model.ExternalMetadata{Description: "nih record"}))
	require.NoError(t, s.PutMetadata(ctx, "nsf", "X1", &model.ExternalMetadata{Description: "nsf record"}))

	nih, err := s.GetMetadata(ctx, "nih", "X1")
	require.NoError(t, err)
	nsf, err := s.GetMetadata(ctx, "nsf", "X1")
	require.NoError(t, err)
	assert.Equal(t, "nih record", nih.Description)
	assert.Equal(t, "nsf record", nsf.Description)

	stats, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.BySource["nih"])
	assert.Equal(t, 1, stats.BySource["nsf"])
}

func TestSQLite_UpsertAndCountAwards(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	awards := []model.Award{
		{ID: "A1", PeriodID: "2024", AgencyCode: "HHS", UEI: "UEI1", RecipientName: "Acme Labs"},
		{ID: "A2", PeriodID: "2024", AgencyCode: "NSF", AwardNumber: "2201234"},
		{ID: "A3", PeriodID: "2023", AgencyCode: "HHS"},
	}
	n, err := s.UpsertAwards(ctx, awards)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	total, err := s.CountAwards(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	in2024, err := s.CountAwards(ctx, "2024")
	require.NoError(t, err)
	assert.Equal(t, 2, in2024)

	// Re-ingesting the same period replaces, not duplicates.
	n, err = s.UpsertAwards(ctx, awards[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	total, err = s.CountAwards(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSQLite_UpsertAwardsEmpty(t *testing.T) {
	s := newTestSQLite(t)

	n, err := s.UpsertAwards(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
