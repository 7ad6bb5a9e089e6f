package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/splits"
)

func splitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splits",
		Short: "Group split receipts into families",
		Long: `Group receipts that jointly represent one real-world charge, by shared
vendor and date or by explicit "split with #id" markers, and tag each family
with a stable anchor id. Rerunning on the same data changes nothing.`,
		RunE: runSplits,
	}
	addBatchFlags(cmd)
	return cmd
}

func runSplits(cmd *cobra.Command, _ []string) error {
	write, limit, err := batchMode(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	resolver := splits.New(store)
	summary, err := resolver.Run(ctx, splits.Options{Write: write, Limit: limit})
	if err != nil {
		return fmt.Errorf("split resolution failed: %w", err)
	}

	fmt.Println(cli.RenderSplitSummary(summary))
	if !write {
		fmt.Println(cli.DryRunNotice())
	}
	return nil
}
