// Package balance recomputes charter paid amounts and balances from linked
// payments. It is the only writer of those derived fields.
package balance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

// chunkSize bounds how many reserve numbers one pass loads.
const chunkSize = 500

// Recalculator rebuilds the derived charter fields.
type Recalculator struct {
	storage  service.Storage
	progress io.Writer
}

// Options configures a recalculation run.
type Options struct {
	Write bool
	// Progress, when set, receives a progress bar during full runs.
	Progress io.Writer
}

// New creates a recalculator backed by the given store.
func New(s service.Storage) *Recalculator {
	return &Recalculator{storage: s}
}

// Result describes the outcome for one charter.
type Result struct {
	ReserveNumber string
	PaidAmount    decimal.Decimal
	Balance       decimal.Decimal
	Changed       bool
	NeedsReview   bool
	Cancelled     bool
}

// Recalculate recomputes one charter. Paid is the sum of payments carrying
// the charter's reserve number; balance is total due minus paid. A cancelled
// charter has an effective total due of zero, so any paid amount shows up as
// a negative balance, meaning credit owed to the client. A charter with no
// recorded total due resolves against zero and is flagged for review rather
// than guessed at.
func (r *Recalculator) Recalculate(ctx context.Context, reserveNumber string, write bool) (*Result, error) {
	var res *Result
	err := storage.RunInTx(ctx, r.storage, write, func(tx service.Transaction) error {
		var err error
		res, err = recalcOne(ctx, tx, reserveNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecalculateAll walks every charter in id order, in chunks, recomputing each
// one. Orphaned payments, payments whose reserve number matches no charter,
// never count toward any balance; they are tallied and reported instead.
func (r *Recalculator) RecalculateAll(ctx context.Context, opts Options) (*service.RecalcSummary, error) {
	summary := &service.RecalcSummary{}

	orphans, err := r.storage.GetOrphanedPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned payments: %w", err)
	}
	summary.Orphaned = len(orphans)
	for _, p := range orphans {
		slog.Warn("payment references no charter",
			"payment_id", p.ID,
			"reserve_number", p.ReserveNumber,
			"amount", p.Amount.StringFixed(2))
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Recalculating charter balances..."),
			progressbar.OptionSpinnerType(14),
		)
	}

	var afterID int64
	for {
		reserves, lastID, err := r.storage.ListReserveNumbers(ctx, afterID, chunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list charters: %w", err)
		}
		if len(reserves) == 0 {
			break
		}

		err = storage.RunInTx(ctx, r.storage, opts.Write, func(tx service.Transaction) error {
			for _, reserve := range reserves {
				res, err := recalcOne(ctx, tx, reserve)
				if err != nil {
					return fmt.Errorf("charter %s: %w", reserve, err)
				}
				summary.Charters++
				if res.Changed {
					summary.Changed++
				}
				if res.NeedsReview {
					summary.NeedsReview++
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		afterID = lastID
		if len(reserves) < chunkSize {
			break
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	slog.Info("balance recalculation complete",
		"charters", summary.Charters,
		"changed", summary.Changed,
		"needs_review", summary.NeedsReview,
		"orphaned_payments", summary.Orphaned,
		"write", opts.Write)

	return summary, nil
}

func recalcOne(ctx context.Context, tx service.Transaction, reserveNumber string) (*Result, error) {
	charter, err := tx.GetCharterByReserve(ctx, reserveNumber)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: charter %s", common.ErrMissingCharter, reserveNumber)
		}
		return nil, err
	}

	paid, err := tx.SumPaymentsByReserve(ctx, reserveNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}

	totalDue := charter.EffectiveTotalDue()
	balance := totalDue.Sub(paid)
	needsReview := charter.NeedsReview || charter.TotalAmountDue == nil

	res := &Result{
		ReserveNumber: reserveNumber,
		PaidAmount:    paid,
		Balance:       balance,
		NeedsReview:   needsReview,
		Cancelled:     charter.Cancelled,
	}

	if paid.Equal(charter.PaidAmount) && balance.Equal(charter.Balance) && needsReview == charter.NeedsReview {
		return res, nil
	}
	res.Changed = true

	if err := tx.UpdateCharterBalances(ctx, reserveNumber, paid, balance, needsReview); err != nil {
		return nil, fmt.Errorf("failed to update charter %s: %w", reserveNumber, err)
	}
	if balance.IsNegative() && !charter.Cancelled {
		slog.Warn("charter overpaid",
			"reserve_number", reserveNumber,
			"balance", balance.StringFixed(2))
	}
	return res, nil
}

// Verify recomputes one charter without writing and reports whether the
// stored derived fields agree with the payments. Used by the conflict
// reporter.
func Verify(ctx context.Context, s service.Storage, charter *model.Charter) (bool, decimal.Decimal, error) {
	paid, err := s.SumPaymentsByReserve(ctx, charter.ReserveNumber)
	if err != nil {
		return false, decimal.Zero, err
	}
	expected := charter.EffectiveTotalDue().Sub(paid)
	ok := paid.Equal(charter.PaidAmount) && expected.Equal(charter.Balance)
	return ok, expected, nil
}
