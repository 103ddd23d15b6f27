package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
)

var vendorAggressive bool

var vendorCmd = &cobra.Command{
	Use:   "vendor <vendor-id>",
	Short: "Run a single-vendor targeted scrape",
	Long:  "Scrapes every catalog page of one vendor. Whole-run quality guardrails are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		vendorID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid vendor id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := buildRunner(st)

		mode := model.ScrapeModeStandard
		if vendorAggressive {
			mode = model.ScrapeModeAggressive
		}

		run, err := runner.RunVendor(ctx, vendorID, mode)
		if run != nil && run.Summary != nil {
			zap.L().Info("vendor scrape complete",
				zap.String("run_id", run.ID),
				zap.Int64("vendor_id", vendorID),
				zap.String("status", string(run.Status)),
			)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(run)
		}
		return err
	},
}

func init() {
	vendorCmd.Flags().BoolVar(&vendorAggressive, "aggressive", false, "allow headless rendering and robots overrides for flagged vendors")
	rootCmd.AddCommand(vendorCmd)
}
