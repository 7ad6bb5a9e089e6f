// Package report surfaces ledger inconsistencies for human review. It never
// repairs anything; its only writes are flag transitions on bank
// transactions, and only when asked to.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harborline/tally/internal/balance"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/splits"
	"github.com/harborline/tally/internal/storage"
)

// Category classifies a finding.
type Category string

const (
	// CategoryUnmatched marks a bank transaction still unreconciled past
	// the matching window age.
	CategoryUnmatched Category = "unmatched"
	// CategoryDuplicate marks receipts sharing (date, amount) where at
	// most one carries a bank link.
	CategoryDuplicate Category = "duplicate_candidate"
	// CategoryBalanceMismatch marks a charter whose stored derived fields
	// disagree with its payments. Always a defect, never a valid state.
	CategoryBalanceMismatch Category = "balance_mismatch"
	// CategorySplitNoMarker marks a split family grouped only by vendor
	// and date, with no member carrying an explicit marker.
	CategorySplitNoMarker Category = "split_without_marker"
	// CategoryOrphanedPayment marks a payment whose reserve number matches
	// no charter.
	CategoryOrphanedPayment Category = "orphaned_payment"
)

// Finding is one inconsistency surfaced to the operator.
type Finding struct {
	Category    Category
	EntityTable string
	Detail      string
	EntityID    int64
}

// Options configures a reporter run.
type Options struct {
	// Write allows the reporter to flip bank transactions to flagged and
	// to clear stale flags. With Write false the run is purely
	// informational.
	Write bool
	// MaxUnmatchedAge is how old an unreconciled transaction may be before
	// it counts as a finding.
	MaxUnmatchedAge time.Duration
	// Now is injectable for tests; zero means time.Now.
	Now time.Time
}

// Reporter scans the ledger for the exception categories.
type Reporter struct {
	storage service.Storage
}

// New creates a reporter backed by the given store.
func New(s service.Storage) *Reporter {
	return &Reporter{storage: s}
}

// Run produces findings across every category. Under Write it also flags the
// offending bank transactions and clears flags whose cause has been fixed,
// returning them to matched.
func (r *Reporter) Run(ctx context.Context, opts Options) ([]Finding, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if opts.MaxUnmatchedAge <= 0 {
		opts.MaxUnmatchedAge = 30 * 24 * time.Hour
	}

	var findings []Finding

	unmatched, err := r.findUnmatched(ctx, now, opts.MaxUnmatchedAge)
	if err != nil {
		return nil, err
	}
	findings = append(findings, unmatched...)

	duplicates, err := r.findDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, duplicates...)

	mismatches, err := r.findBalanceMismatches(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, mismatches...)

	markerless, err := r.findMarkerlessSplits(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, markerless...)

	orphans, err := r.findOrphanedPayments(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, orphans...)

	if err := r.applyFlags(ctx, opts.Write, findings); err != nil {
		return nil, err
	}

	slog.Info("conflict report complete",
		"findings", len(findings),
		"write", opts.Write)
	return findings, nil
}

// findUnmatched reports transactions that are past the matching window and
// still carry no active match. Transactions flagged by an earlier run are
// re-examined against the same cause, so a persisting finding keeps its flag
// and rerunning converges instead of toggling the status back and forth.
func (r *Reporter) findUnmatched(ctx context.Context, now time.Time, maxAge time.Duration) ([]Finding, error) {
	txns, err := r.storage.GetBankTransactionsByStatus(ctx, model.StatusUnreconciled, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load unreconciled transactions: %w", err)
	}
	flagged, err := r.storage.GetBankTransactionsByStatus(ctx, model.StatusFlagged, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load flagged transactions: %w", err)
	}
	txns = append(txns, flagged...)

	var findings []Finding
	cutoff := now.Add(-maxAge)
	for _, t := range txns {
		if t.Date.After(cutoff) {
			continue
		}
		if t.Status == model.StatusFlagged {
			matched, matchErr := r.hasActiveMatch(ctx, t.ID)
			if matchErr != nil {
				return nil, matchErr
			}
			if matched {
				// Cause resolved; applyFlags will clear the flag.
				continue
			}
		}
		findings = append(findings, Finding{
			Category:    CategoryUnmatched,
			EntityTable: "bank_transactions",
			EntityID:    t.ID,
			Detail: fmt.Sprintf("unreconciled since %s: %s $%s",
				t.Date.Format("2006-01-02"), t.Description, t.UnsignedAmount().StringFixed(2)),
		})
	}
	return findings, nil
}

func (r *Reporter) hasActiveMatch(ctx context.Context, txnID int64) (bool, error) {
	matches, err := r.storage.GetMatchRecordsForTransaction(ctx, txnID)
	if err != nil {
		return false, fmt.Errorf("failed to load match records for transaction %d: %w", txnID, err)
	}
	for _, m := range matches {
		if m.MatchStatus == model.MatchActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reporter) findDuplicates(ctx context.Context) ([]Finding, error) {
	groups, err := r.storage.FindDuplicateReceiptCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate candidates: %w", err)
	}
	var findings []Finding
	for _, group := range groups {
		for _, rcpt := range group {
			if rcpt.BankingTransactionID != nil {
				continue // the linked copy is presumed genuine
			}
			findings = append(findings, Finding{
				Category:    CategoryDuplicate,
				EntityTable: "receipts",
				EntityID:    rcpt.ID,
				Detail: fmt.Sprintf("same date and amount as %d other receipt(s): %s",
					len(group)-1, rcpt.String()),
			})
		}
	}
	return findings, nil
}

func (r *Reporter) findBalanceMismatches(ctx context.Context) ([]Finding, error) {
	var findings []Finding
	var afterID int64
	for {
		reserves, lastID, err := r.storage.ListReserveNumbers(ctx, afterID, 500)
		if err != nil {
			return nil, fmt.Errorf("failed to list charters: %w", err)
		}
		if len(reserves) == 0 {
			break
		}
		for _, reserve := range reserves {
			charter, err := r.storage.GetCharterByReserve(ctx, reserve)
			if err != nil {
				return nil, err
			}
			ok, expected, err := balance.Verify(ctx, r.storage, charter)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
			findings = append(findings, Finding{
				Category:    CategoryBalanceMismatch,
				EntityTable: "charters",
				EntityID:    charter.ID,
				Detail: fmt.Sprintf("charter %s stored balance %s but payments imply %s",
					reserve, charter.Balance.StringFixed(2), expected.StringFixed(2)),
			})
		}
		afterID = lastID
		if len(reserves) < 500 {
			break
		}
	}
	return findings, nil
}

func (r *Reporter) findMarkerlessSplits(ctx context.Context) ([]Finding, error) {
	receipts, err := r.storage.GetReceiptsForSplitScan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	var findings []Finding
	for _, g := range splits.BuildGroups(receipts) {
		if !g.Markerless {
			continue
		}
		findings = append(findings, Finding{
			Category:    CategorySplitNoMarker,
			EntityTable: "receipts",
			EntityID:    g.AnchorID,
			Detail: fmt.Sprintf("split group of %d receipts has no explicit marker on any member",
				len(g.MemberIDs)),
		})
	}
	return findings, nil
}

func (r *Reporter) findOrphanedPayments(ctx context.Context) ([]Finding, error) {
	orphans, err := r.storage.GetOrphanedPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned payments: %w", err)
	}
	var findings []Finding
	for _, p := range orphans {
		findings = append(findings, Finding{
			Category:    CategoryOrphanedPayment,
			EntityTable: "payments",
			EntityID:    p.ID,
			Detail: fmt.Sprintf("payment %d references reserve %s with no charter", p.ID, p.ReserveNumber),
		})
	}
	return findings, nil
}

// applyFlags flips bank transactions named by findings to flagged, and
// returns previously flagged transactions whose cause has been resolved back
// to matched. Flagged is a diagnostic overlay, not a terminal state.
func (r *Reporter) applyFlags(ctx context.Context, write bool, findings []Finding) error {
	flaggedNow := make(map[int64]string)
	for _, f := range findings {
		if f.EntityTable == "bank_transactions" {
			flaggedNow[f.EntityID] = f.Detail
		}
	}

	stale, err := r.storage.GetBankTransactionsByStatus(ctx, model.StatusFlagged, 0)
	if err != nil {
		return fmt.Errorf("failed to load flagged transactions: %w", err)
	}

	return storage.RunInTx(ctx, r.storage, write, func(tx service.Transaction) error {
		for id, reason := range flaggedNow {
			if err := tx.UpdateBankTransactionStatus(ctx, id, model.StatusFlagged, reason); err != nil {
				return fmt.Errorf("failed to flag transaction %d: %w", id, err)
			}
		}
		for _, t := range stale {
			if _, still := flaggedNow[t.ID]; still {
				continue
			}
			matches, err := tx.GetMatchRecordsForTransaction(ctx, t.ID)
			if err != nil {
				return err
			}
			next := model.StatusUnreconciled
			for _, m := range matches {
				if m.MatchStatus == model.MatchActive {
					next = model.StatusMatched
					break
				}
			}
			if err := tx.UpdateBankTransactionStatus(ctx, t.ID, next, ""); err != nil {
				return fmt.Errorf("failed to clear flag on transaction %d: %w", t.ID, err)
			}
			slog.Info("cleared stale flag", "transaction_id", t.ID, "status", next)
		}
		return nil
	})
}
