package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ingest-cli",
	Short: "Peptide vendor offer ingest pipeline",
	Long:  "Discovers product offers on vendor storefronts, normalizes them into comparable unit-price metrics, resolves compound identities, and records a time-versioned offer history.",
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
