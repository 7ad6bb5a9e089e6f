package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/report"
)

func reportCmd() *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report ledger inconsistencies",
		Long: `Scan for unmatched bank transactions past the matching window, duplicate
receipt candidates, charter balance mismatches, unverified split groups, and
payments referencing no charter. Nothing is repaired; under --write the
offending bank transactions are flagged and stale flags are cleared.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			reporter := report.New(store)
			findings, err := reporter.Run(ctx, report.Options{
				Write:           write,
				MaxUnmatchedAge: time.Duration(maxAgeDays) * 24 * time.Hour,
			})
			if err != nil {
				return fmt.Errorf("report failed: %w", err)
			}

			fmt.Println(cli.RenderFindings(findings))
			if !write {
				fmt.Println(cli.DryRunNotice())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age", 30, "days before an unmatched transaction becomes a finding")
	addBatchFlags(cmd)
	return cmd
}
