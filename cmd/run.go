package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
)

var runAggressive bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full vendor scrape cycle",
	Long:  "Drains queued manual scrape requests, sweeps every catalog page, and evaluates post-run quality guardrails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := buildRunner(st)

		run, err := runner.RunFull(ctx, scrapeMode(runAggressive))
		if run != nil && run.Summary != nil {
			zap.L().Info("full cycle complete",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("offers_upserted", run.Summary.OffersUpserted),
			)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(run)
		}
		return err
	},
}

func scrapeMode(aggressive bool) model.ScrapeMode {
	if aggressive {
		return model.ScrapeModeAggressive
	}
	return model.ScrapeModeStandard
}

func init() {
	runCmd.Flags().BoolVar(&runAggressive, "aggressive", false, "allow headless rendering and robots overrides for flagged vendors")
	rootCmd.AddCommand(runCmd)
}
