package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/balance"
	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/service"
)

func recalcCmd() *cobra.Command {
	var reserve string
	var all bool

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate charter balances from payments",
		Long: `Recompute paid_amount and balance for one charter (--reserve) or every
charter (--all) purely from the sum of linked payments. Safe to run
unconditionally; charters already correct are untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (reserve == "") == (!all) {
				return fmt.Errorf("exactly one of --reserve and --all is required")
			}
			write, _, err := batchMode(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			recalc := balance.New(store)

			if reserve != "" {
				res, err := recalc.Recalculate(ctx, reserve, write)
				if err != nil {
					return fmt.Errorf("recalculation failed: %w", err)
				}
				summary := &service.RecalcSummary{Charters: 1}
				if res.Changed {
					summary.Changed = 1
				}
				if res.NeedsReview {
					summary.NeedsReview = 1
				}
				fmt.Printf("charter %s: paid %s, balance %s\n",
					res.ReserveNumber, res.PaidAmount.StringFixed(2), res.Balance.StringFixed(2))
				fmt.Println(cli.RenderRecalcSummary(summary))
			} else {
				summary, err := recalc.RecalculateAll(ctx, balance.Options{
					Write:    write,
					Progress: os.Stderr,
				})
				if err != nil {
					return fmt.Errorf("recalculation failed: %w", err)
				}
				fmt.Println(cli.RenderRecalcSummary(summary))
			}

			if !write {
				fmt.Println(cli.DryRunNotice())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reserve, "reserve", "", "recalculate a single charter by reserve number")
	cmd.Flags().BoolVar(&all, "all", false, "recalculate every charter")
	addBatchFlags(cmd)
	return cmd
}
