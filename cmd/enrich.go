package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/enrich"
	"github.com/sells-group/awardsync/internal/fetcher"
	"github.com/sells-group/awardsync/internal/ingest"
	"github.com/sells-group/awardsync/internal/model"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich award records from a CSV file",
	Long: `Enrich the award records in a CSV file with external project metadata.

Records are deduplicated by (source, key) so each distinct key costs at most
one API call; cached metadata is reused across runs. Results are written as
JSON, and a metrics entry is appended to the enrichment run log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "enrich"))

		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		period, _ := cmd.Flags().GetString("period")
		if file == "" {
			return eris.New("enrich: --file is required")
		}

		awards, err := readAwardsCSV(ctx, file, period)
		if err != nil {
			return err
		}
		if len(awards) == 0 {
			return eris.Errorf("enrich: no valid award rows in %s", file)
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		orch, err := newOrchestrator(s)
		if err != nil {
			return err
		}
		batch := enrich.NewBatchOptimizer(orch, cfg.Enrich.BatchConcurrency)
		results := batch.EnrichBatch(ctx, awards)
		stats := batch.Stats()

		metricsLog, err := dataLog("enrichment_metrics.json", "runs")
		if err != nil {
			return err
		}
		if err := orch.Metrics().Flush(metricsLog); err != nil {
			return err
		}

		if err := writeResults(out, results); err != nil {
			return err
		}

		log.Info("enrichment complete",
			zap.Int("total", stats.TotalRecords),
			zap.Int("unique_keys", stats.UniqueKeys),
			zap.Int("enriched", stats.Enriched),
			zap.Int("failed", stats.Failed),
			zap.Float64("dedup_ratio", stats.DeduplicationRatio))

		fmt.Printf("Enriched %d/%d records (%d unique keys, %d failed, %d not attempted)\n",
			stats.Enriched, stats.TotalRecords, stats.UniqueKeys, stats.Failed, stats.NotAttempted)
		for source, state := range orch.BreakerStates() {
			fmt.Printf("  breaker %s: %s\n", source, state)
		}
		return nil
	},
}

// readAwardsCSV loads award rows from a CSV file, skipping malformed rows.
func readAwardsCSV(ctx context.Context, path, periodID string) ([]model.Award, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var mapper *ingest.RowMapper
	var awards []model.Award
	err = fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true}, func(header, row []string) error {
		if mapper == nil {
			m, err := ingest.NewRowMapper(header)
			if err != nil {
				return err
			}
			mapper = m
		}
		award, err := mapper.Award(row, periodID)
		if err != nil {
			return nil
		}
		awards = append(awards, award)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return awards, nil
}

// writeResults emits the enriched records as JSON to a file or stdout.
func writeResults(out string, results []model.EnrichedAward) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return eris.Wrap(err, "enrich: encode results")
	}
	if out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return eris.Wrapf(err, "enrich: write %s", out)
	}
	return nil
}

func init() {
	enrichCmd.Flags().String("file", "", "CSV file of award records (required)")
	enrichCmd.Flags().String("out", "", "output JSON path (default: stdout)")
	enrichCmd.Flags().String("period", "", "period id to stamp on the records")
	rootCmd.AddCommand(enrichCmd)
}
