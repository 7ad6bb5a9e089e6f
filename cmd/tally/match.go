package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/config"
	"github.com/harborline/tally/internal/engine"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match unreconciled bank transactions to receipts and payments",
		Long: `Search for receipt and payment counterparts of each unreconciled bank
transaction within the configured date window and amount tolerance, and
attach a match record wherever exactly one candidate clears the confidence
floor. Ambiguous transactions are never auto-resolved.`,
		RunE: runMatch,
	}
	addBatchFlags(cmd)
	return cmd
}

func runMatch(cmd *cobra.Command, _ []string) error {
	write, limit, err := batchMode(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.MatcherConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	matcher := engine.New(store, cfg)
	summary, err := matcher.Run(ctx, engine.Options{Write: write, Limit: limit})
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}

	fmt.Println(cli.RenderMatchSummary(summary))
	if !write {
		fmt.Println(cli.DryRunNotice())
	}
	return nil
}
