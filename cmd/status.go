package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/awardsync/internal/archive"
	"github.com/sells-group/awardsync/internal/enrich"
	"github.com/sells-group/awardsync/internal/refresh"
)

// statusTail is how many recent run log entries each section shows.
const statusTail = 5

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent refresh, archive, and enrichment activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := printManifests(); err != nil {
			return err
		}
		if err := printRetries(); err != nil {
			return err
		}
		return printMetrics()
	},
}

func printManifests() error {
	log, err := dataLog("refresh_manifests.json", "manifests")
	if err != nil {
		return err
	}
	var manifests []refresh.Manifest
	if err := log.Read(&manifests); err != nil {
		return err
	}

	fmt.Println("Recent refresh runs:")
	if len(manifests) == 0 {
		fmt.Println("  none")
		return nil
	}
	for _, m := range tail(manifests) {
		fmt.Printf("  %s  %s  %d-%d %s  %d records, %d periods, %d errors\n",
			m.StartedAt.Format(time.RFC3339), m.RunID,
			m.Scope.PeriodStart, m.Scope.PeriodEnd, m.Scope.Mode,
			m.RecordsProcessed, len(m.PeriodsUpdated), len(m.Errors))
	}
	return nil
}

func printRetries() error {
	log, err := dataLog("archive_retries.json", "retries")
	if err != nil {
		return err
	}
	var retries []archive.RetryLog
	if err := log.Read(&retries); err != nil {
		return err
	}

	fmt.Println("Recent archive acquisitions:")
	if len(retries) == 0 {
		fmt.Println("  none")
		return nil
	}
	for _, r := range tail(retries) {
		fmt.Printf("  %s  period %s  %s after %d attempts\n",
			r.StartedAt.Format(time.RFC3339), r.PeriodID, r.FinalStatus, len(r.Attempts))
	}
	return nil
}

func printMetrics() error {
	log, err := dataLog("enrichment_metrics.json", "runs")
	if err != nil {
		return err
	}
	var runs []enrich.RunSummary
	if err := log.Read(&runs); err != nil {
		return err
	}

	fmt.Println("Recent enrichment runs:")
	if len(runs) == 0 {
		fmt.Println("  none")
		return nil
	}
	for _, r := range tail(runs) {
		fmt.Printf("  %s  %s\n", r.StartedAt.Format(time.RFC3339), r.RunID)
		for source, s := range r.BySource {
			fmt.Printf("    %s: hit rate %.0f%%, success rate %.0f%%, p95 %.0fms\n",
				source, s.CacheHitRate*100, s.CallSuccessRate*100, s.LatencyP95Ms)
		}
	}
	return nil
}

func tail[T any](entries []T) []T {
	if len(entries) <= statusTail {
		return entries
	}
	return entries[len(entries)-statusTail:]
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
