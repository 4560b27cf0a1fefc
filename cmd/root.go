package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/awardsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "awardsync",
	Short: "Government award acquisition and enrichment pipeline",
	Long:  "Acquires period award archives from agency endpoints, ingests them, and enriches award records with external project metadata from NIH RePORTER and the NSF Awards API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
