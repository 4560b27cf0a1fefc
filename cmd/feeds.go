package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/feeds"
	"github.com/sells-group/awardsync/internal/store"
)

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage late-arriving award feeds",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a late feed file for reconciliation",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		period, _ := cmd.Flags().GetString("period")
		file, _ := cmd.Flags().GetString("file")
		if source == "" || period == "" || file == "" {
			return eris.New("feeds add: --source, --period, and --file are required")
		}

		q, s, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		feed, err := q.Enqueue(cmd.Context(), source, period, file)
		if err != nil {
			return err
		}
		fmt.Printf("Queued feed %s (%s, period %s)\n", feed.ID, feed.Source, feed.PeriodID)
		return nil
	},
}

var feedsProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process all pending feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := zap.L().With(zap.String("command", "feeds.process"))

		q, s, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		report, err := q.ProcessPending(cmd.Context())
		if err != nil {
			return err
		}

		log.Info("feed reconciliation complete",
			zap.String("run_id", report.RunID),
			zap.Int("feeds_processed", report.FeedsProcessed),
			zap.Int("feeds_failed", report.FeedsFailed),
			zap.Int("records_ingested", report.RecordsIngested),
			zap.Int("duplicates", report.DuplicatesFound))

		fmt.Printf("Processed %d feeds (%d failed): %d records ingested, %d duplicates dropped\n",
			report.FeedsProcessed, report.FeedsFailed, report.RecordsIngested, report.DuplicatesFound)
		for _, e := range report.Errors {
			fmt.Println("  " + e)
		}
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued feeds and their statuses",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, s, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		entries, err := q.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No feeds queued")
			return nil
		}
		for _, f := range entries {
			line := fmt.Sprintf("%s  %-9s  %s period %s  %s", f.ID, f.Status, f.Source, f.PeriodID, f.FileRef)
			if f.Error != "" {
				line += "  (" + f.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// openQueue wires a feed queue over the configured store and report log.
// The caller closes the returned store.
func openQueue(cmd *cobra.Command) (*feeds.Queue, store.Store, error) {
	s, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	reportLog, err := dataLog("reconciliation_reports.json", "reports")
	if err != nil {
		s.Close() //nolint:errcheck
		return nil, nil, err
	}
	return feeds.NewQueue(cfg.Feeds.ManifestPath, s, reportLog), s, nil
}

func init() {
	feedsAddCmd.Flags().String("source", "", "feed source code (e.g. nih)")
	feedsAddCmd.Flags().String("period", "", "period id the feed belongs to")
	feedsAddCmd.Flags().String("file", "", "path to the feed file (.csv or .xlsx)")
	feedsCmd.AddCommand(feedsAddCmd)
	feedsCmd.AddCommand(feedsProcessCmd)
	feedsCmd.AddCommand(feedsListCmd)
	rootCmd.AddCommand(feedsCmd)
}
