package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/fetcher"
	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/refresh"
	"github.com/sells-group/awardsync/internal/store"
)

// upsertBatchSize bounds memory while streaming large period archives.
const upsertBatchSize = 500

// completenessFields are the optional award fields whose fill rate is
// reported on the refresh manifest.
var completenessFields = []string{"uei", "award_number", "recipient_name", "recipient_address"}

// CSVIngestor is the default refresh.Ingestor: it streams a period archive
// (bare CSV or a ZIP of CSVs) and upserts its award rows into the store.
type CSVIngestor struct {
	store store.Store
}

// NewCSVIngestor creates the default ingestor over the given store.
func NewCSVIngestor(s store.Store) *CSVIngestor {
	return &CSVIngestor{store: s}
}

// Ingest loads one period archive. Malformed rows are counted, not fatal;
// the period fails only when the archive itself cannot be read.
func (in *CSVIngestor) Ingest(ctx context.Context, periodID, archivePath string) (refresh.IngestResult, error) {
	paths, cleanup, err := in.dataFiles(archivePath)
	if err != nil {
		return refresh.IngestResult{}, err
	}
	defer cleanup()

	var result refresh.IngestResult
	filled := make(map[string]int, len(completenessFields))

	for _, path := range paths {
		if err := in.ingestFile(ctx, periodID, path, &result, filled); err != nil {
			return result, err
		}
	}

	if result.RecordsIngested > 0 {
		result.FieldCompleteness = make(map[string]float64, len(completenessFields))
		for _, f := range completenessFields {
			result.FieldCompleteness[f] = float64(filled[f]) / float64(result.RecordsIngested)
		}
	}

	zap.L().Info("period ingested",
		zap.String("component", "ingest"),
		zap.String("period_id", periodID),
		zap.Int("records", result.RecordsIngested),
		zap.Int("malformed", result.MalformedRows))
	return result, nil
}

// dataFiles resolves the archive into one or more CSV paths, extracting
// ZIPs into a temp dir that cleanup removes.
func (in *CSVIngestor) dataFiles(archivePath string) ([]string, func(), error) {
	noop := func() {}
	if strings.ToLower(filepath.Ext(archivePath)) != ".zip" {
		return []string{archivePath}, noop, nil
	}

	tmpDir, err := os.MkdirTemp("", "awardsync-ingest-*")
	if err != nil {
		return nil, noop, eris.Wrap(err, "ingest: create extract dir")
	}
	cleanup := func() { os.RemoveAll(tmpDir) } //nolint:errcheck

	extracted, err := fetcher.ExtractZIP(archivePath, tmpDir)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	var csvs []string
	for _, p := range extracted {
		if strings.ToLower(filepath.Ext(p)) == ".csv" {
			csvs = append(csvs, p)
		}
	}
	if len(csvs) == 0 {
		cleanup()
		return nil, noop, eris.Errorf("ingest: no csv files in archive %s", archivePath)
	}
	return csvs, cleanup, nil
}

func (in *CSVIngestor) ingestFile(ctx context.Context, periodID, path string, result *refresh.IngestResult, filled map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var mapper *RowMapper
	batch := make([]model.Award, 0, upsertBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := in.store.UpsertAwards(ctx, batch); err != nil {
			return eris.Wrap(err, "ingest: upsert awards")
		}
		batch = batch[:0]
		return nil
	}

	err = fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true}, func(header, row []string) error {
		if mapper == nil {
			m, err := NewRowMapper(header)
			if err != nil {
				return err
			}
			mapper = m
		}

		award, err := mapper.Award(row, periodID)
		if err != nil {
			result.MalformedRows++
			return nil
		}

		result.RecordsIngested++
		countFilled(award, filled)
		batch = append(batch, award)
		if len(batch) >= upsertBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func countFilled(a model.Award, filled map[string]int) {
	if a.UEI != "" {
		filled["uei"]++
	}
	if a.AwardNumber != "" {
		filled["award_number"]++
	}
	if a.RecipientName != "" {
		filled["recipient_name"]++
	}
	if a.RecipientAddress != "" {
		filled["recipient_address"]++
	}
}
