package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reconciliation progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := store.CountBankTransactionsByStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to count transactions: %w", err)
			}
			fmt.Println(cli.RenderStatus(counts))

			review, err := store.GetChartersNeedingReview(ctx)
			if err != nil {
				return fmt.Errorf("failed to load charters needing review: %w", err)
			}
			if len(review) > 0 {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("%d charter(s) need manual review:", len(review))))
				for _, c := range review {
					fmt.Printf("  %s  paid %s  balance %s\n",
						c.ReserveNumber, c.PaidAmount.StringFixed(2), c.Balance.StringFixed(2))
				}
			}
			return nil
		},
	}
}
