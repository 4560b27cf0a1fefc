package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/ingest"
	"github.com/sells-group/awardsync/internal/refresh"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh award data for a period range",
	Long: `Refresh award data for a range of periods.

For each period, the archive is downloaded (with bounded retry and cache
fallback) and its award rows are ingested into the store. Incremental
refreshes spanning more than 3 periods require --override plus a rationale,
and every scope decision is audited before any work starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "refresh"))

		start, _ := cmd.Flags().GetInt("start")
		end, _ := cmd.Flags().GetInt("end")
		mode, _ := cmd.Flags().GetString("mode")
		rationale, _ := cmd.Flags().GetString("rationale")
		override, _ := cmd.Flags().GetBool("override")

		scope := refresh.Scope{
			PeriodStart:       start,
			PeriodEnd:         end,
			Mode:              refresh.Mode(mode),
			Rationale:         rationale,
			EmergencyOverride: override,
		}
		if err := scope.Validate(); err != nil {
			return err
		}

		if cfg.Archive.URLTemplate == "" || !strings.Contains(cfg.Archive.URLTemplate, "%s") {
			return eris.New("refresh: archive.url_template must be set and contain %s")
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close() //nolint:errcheck

		manager, err := newArchiveManager()
		if err != nil {
			return err
		}
		auditLog, err := dataLog("refresh_audit.json", "decisions")
		if err != nil {
			return err
		}
		manifestLog, err := dataLog("refresh_manifests.json", "manifests")
		if err != nil {
			return err
		}

		orch := refresh.NewOrchestrator(manager, ingest.NewCSVIngestor(s), refresh.Config{
			URLForPeriod: func(periodID string) string {
				return fmt.Sprintf(cfg.Archive.URLTemplate, periodID)
			},
			AuditLog:    auditLog,
			ManifestLog: manifestLog,
		})

		manifest, err := orch.Execute(ctx, scope)
		if err != nil {
			return eris.Wrap(err, "refresh")
		}

		log.Info("refresh complete",
			zap.String("run_id", manifest.RunID),
			zap.Int("records", manifest.RecordsProcessed),
			zap.Int("malformed", manifest.MalformedRows),
			zap.Int("periods_updated", len(manifest.PeriodsUpdated)),
			zap.Int("errors", len(manifest.Errors)))

		fmt.Printf("Refresh %s: %d records across %d periods (%d malformed rows)\n",
			manifest.RunID, manifest.RecordsProcessed, len(manifest.PeriodsUpdated), manifest.MalformedRows)
		for _, pe := range manifest.Errors {
			fmt.Printf("  period %s failed: %s\n", pe.PeriodID, pe.Error)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().Int("start", 0, "first period (e.g. 2022)")
	refreshCmd.Flags().Int("end", 0, "last period, inclusive")
	refreshCmd.Flags().String("mode", string(refresh.ModeIncremental), "refresh mode: full or incremental")
	refreshCmd.Flags().String("rationale", "", "why this refresh is being run (required)")
	refreshCmd.Flags().Bool("override", false, "allow a wide incremental refresh")
	rootCmd.AddCommand(refreshCmd)
}
