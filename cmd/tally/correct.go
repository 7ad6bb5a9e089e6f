package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborline/tally/internal/cli"
	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Apply audited corrections",
		Long: `Manual corrections to the ledger. Every correction writes an audit record
with a snapshot of the prior state before mutating anything. Match records
are superseded, never deleted.`,
	}

	cmd.AddCommand(unlinkCmd())
	cmd.AddCommand(deleteReceiptCmd())
	cmd.AddCommand(cancelCharterCmd())

	return cmd
}

func unlinkCmd() *cobra.Command {
	var receiptID, paymentID int64
	var note string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Detach a receipt or payment from its bank transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (receiptID == 0) == (paymentID == 0) {
				return fmt.Errorf("exactly one of --receipt and --payment is required")
			}
			write, _, err := batchMode(cmd)
			if err != nil {
				return err
			}

			entityType := model.EntityReceipt
			entityID := receiptID
			if paymentID != 0 {
				entityType = model.EntityPayment
				entityID = paymentID
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			err = storage.RunInTx(ctx, store, write, func(tx service.Transaction) error {
				match, err := tx.GetActiveMatchForEntity(ctx, entityType, entityID)
				if errors.Is(err, common.ErrNotFound) {
					return fmt.Errorf("%s %d has no active match", entityType, entityID)
				}
				if err != nil {
					return err
				}

				snapshot, err := storage.SnapshotJSON(match)
				if err != nil {
					return err
				}
				if err := tx.AppendAuditRecord(ctx, &service.AuditRecord{
					OccurredAt:  time.Now().UTC(),
					Actor:       currentActor(),
					Action:      "unlink",
					EntityTable: "match_records",
					EntityID:    entityID,
					PriorState:  snapshot,
					Note:        note,
				}); err != nil {
					return fmt.Errorf("failed to record audit: %w", err)
				}

				if err := tx.SupersedeMatchRecord(ctx, match.ID, note); err != nil {
					return err
				}
				switch entityType {
				case model.EntityReceipt:
					err = tx.UpdateReceiptBankLink(ctx, entityID, nil)
				case model.EntityPayment:
					err = tx.UpdatePaymentBankLink(ctx, entityID, nil)
				}
				if err != nil {
					return err
				}

				// Revert the transaction unless another active match remains.
				remaining, err := tx.GetMatchRecordsForTransaction(ctx, match.BankingTransactionID)
				if err != nil {
					return err
				}
				status := model.StatusUnreconciled
				for _, m := range remaining {
					if m.MatchStatus == model.MatchActive {
						status = model.StatusMatched
						break
					}
				}
				return tx.UpdateBankTransactionStatus(ctx, match.BankingTransactionID, status, "")
			})
			if err != nil {
				return fmt.Errorf("unlink failed: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Unlinked %s %d", entityType, entityID)))
			if !write {
				fmt.Println(cli.DryRunNotice())
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&receiptID, "receipt", 0, "receipt id to unlink")
	cmd.Flags().Int64Var(&paymentID, "payment", 0, "payment id to unlink")
	cmd.Flags().StringVar(&note, "note", "", "justification recorded in the audit trail")
	_ = cmd.MarkFlagRequired("note")
	addBatchFlags(cmd)
	return cmd
}

func deleteReceiptCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "delete-receipt <id>",
		Short: "Delete a receipt after snapshotting it",
		Long: `Delete a receipt, typically a confirmed duplicate. The full row is
snapshotted into the audit log first. A receipt still linked to a bank
transaction must be unlinked before it can be deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil || id <= 0 {
				return fmt.Errorf("invalid receipt id %q", args[0])
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

			err = storage.RunInTx(ctx, store, write, func(tx service.Transaction) error {
				rcpt, err := tx.GetReceiptByID(ctx, id)
				if err != nil {
					return err
				}
				snapshot, err := storage.SnapshotJSON(rcpt)
				if err != nil {
					return err
				}
				if err := tx.AppendAuditRecord(ctx, &service.AuditRecord{
					OccurredAt:  time.Now().UTC(),
					Actor:       currentActor(),
					Action:      "delete",
					EntityTable: "receipts",
					EntityID:    id,
					PriorState:  snapshot,
					Note:        note,
				}); err != nil {
					return fmt.Errorf("failed to record audit: %w", err)
				}
				return tx.DeleteReceipt(ctx, id)
			})
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted receipt %d", id)))
			if !write {
				fmt.Println(cli.DryRunNotice())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "justification recorded in the audit trail")
	_ = cmd.MarkFlagRequired("note")
	addBatchFlags(cmd)
	return cmd
}

func cancelCharterCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "cancel-charter <reserve-number>",
		Short: "Cancel a charter",
		Long: `Cancel a charter: total due becomes zero and any payments already received
become a credit owed to the client. Balances are recomputed immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reserve := args[0]
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

			err = storage.RunInTx(ctx, store, write, func(tx service.Transaction) error {
				charter, err := tx.GetCharterByReserve(ctx, reserve)
				if err != nil {
					return err
				}
				snapshot, err := storage.SnapshotJSON(charter)
				if err != nil {
					return err
				}
				if err := tx.AppendAuditRecord(ctx, &service.AuditRecord{
					OccurredAt:  time.Now().UTC(),
					Actor:       currentActor(),
					Action:      "cancel",
					EntityTable: "charters",
					EntityID:    charter.ID,
					PriorState:  snapshot,
					Note:        note,
				}); err != nil {
					return fmt.Errorf("failed to record audit: %w", err)
				}

				if err := tx.CancelCharter(ctx, reserve); err != nil {
					return err
				}
				paid, err := tx.SumPaymentsByReserve(ctx, reserve)
				if err != nil {
					return err
				}
				return tx.UpdateCharterBalances(ctx, reserve, paid, paid.Neg(), charter.NeedsReview)
			})
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Cancelled charter %s", reserve)))
			if !write {
				fmt.Println(cli.DryRunNotice())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "justification recorded in the audit trail")
	_ = cmd.MarkFlagRequired("note")
	addBatchFlags(cmd)
	return cmd
}
