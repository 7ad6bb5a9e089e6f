package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

func setupStorage(t *testing.T) service.Storage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDate(day int) time.Time {
	return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func insertDebit(t *testing.T, s service.Storage, day int, description, amount string) int64 {
	t.Helper()
	d := dec(amount)
	txn := &model.BankTransaction{
		Date:          testDate(day),
		PostedDate:    testDate(day),
		AccountNumber: "1001-222",
		Description:   description,
		SourceFile:    "jan.csv",
		Status:        model.StatusUnreconciled,
		Debit:         &d,
	}
	txn.Hash = txn.GenerateHash()
	id, err := s.InsertBankTransaction(context.Background(), txn)
	require.NoError(t, err)
	return id
}

func insertCredit(t *testing.T, s service.Storage, day int, description, amount string) int64 {
	t.Helper()
	c := dec(amount)
	txn := &model.BankTransaction{
		Date:          testDate(day),
		PostedDate:    testDate(day),
		AccountNumber: "1001-222",
		Description:   description,
		SourceFile:    "jan.csv",
		Status:        model.StatusUnreconciled,
		Credit:        &c,
	}
	txn.Hash = txn.GenerateHash()
	id, err := s.InsertBankTransaction(context.Background(), txn)
	require.NoError(t, err)
	return id
}

func insertReceipt(t *testing.T, s service.Storage, day int, vendor, amount string) int64 {
	t.Helper()
	id, err := s.InsertReceipt(context.Background(), &model.Receipt{
		Date:        testDate(day),
		Vendor:      vendor,
		GrossAmount: dec(amount),
	})
	require.NoError(t, err)
	return id
}

func TestPick(t *testing.T) {
	one := Candidate{EntityType: model.EntityReceipt, EntityID: 1, Confidence: 0.9}
	two := Candidate{EntityType: model.EntityReceipt, EntityID: 2, Confidence: 0.9}
	weak := Candidate{EntityType: model.EntityReceipt, EntityID: 3, Confidence: 0.4}

	got, err := Pick([]Candidate{one, weak}, 0.6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.EntityID)

	_, err = Pick([]Candidate{one, two}, 0.6)
	assert.ErrorIs(t, err, common.ErrAmbiguousMatch)

	_, err = Pick([]Candidate{weak}, 0.6)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = Pick(nil, 0.6)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMatcherAttachesSingleCandidate(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// One debit of 150.00 and one unlinked receipt on the same date.
	txnID := insertDebit(t, store, 15, "FUEL PURCHASE", "150.00")
	receiptID := insertReceipt(t, store, 15, "PETRO", "150.00")

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Matched)

	match, err := store.GetActiveMatchForEntity(ctx, model.EntityReceipt, receiptID)
	require.NoError(t, err)
	assert.Equal(t, txnID, match.BankingTransactionID)
	assert.Equal(t, model.MatchAutoGenerated, match.MatchType)
	assert.InDelta(t, 1.0, match.Confidence, 1e-9)

	rcpt, err := store.GetReceiptByID(ctx, receiptID)
	require.NoError(t, err)
	require.NotNil(t, rcpt.BankingTransactionID)
	assert.Equal(t, txnID, *rcpt.BankingTransactionID)

	txn, err := store.GetBankTransactionByID(ctx, txnID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMatched, txn.Status)

	// Rerunning produces no new record.
	again, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Examined)
	assert.Equal(t, 0, again.Matched)
}

func TestMatcherNeverGuessesBetweenEqualCandidates(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertDebit(t, store, 15, "CATERING", "75.00")
	insertReceipt(t, store, 15, "CATERER A", "75.00")
	insertReceipt(t, store, 15, "CATERER B", "75.00")

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ambiguous)
	assert.Equal(t, 0, summary.Matched)

	counts, err := store.CountBankTransactionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusUnreconciled], "ambiguous transaction stays unreconciled")
}

func TestMatcherPrefersCloserDate(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertDebit(t, store, 15, "SUPPLIES", "40.00")
	sameDay := insertReceipt(t, store, 15, "STAPLES", "40.00")
	insertReceipt(t, store, 17, "STAPLES", "40.00")

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)

	match, err := store.GetActiveMatchForEntity(ctx, model.EntityReceipt, sameDay)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, match.Confidence, 1e-9)
}

func TestMatcherRespectsConfidenceFloor(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertDebit(t, store, 15, "SUPPLIES", "40.00")
	insertReceipt(t, store, 17, "STAPLES", "40.00")

	cfg := DefaultConfig()
	cfg.ConfidenceFloor = 0.95
	matcher := New(store, cfg)

	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NoMatch)
	assert.Equal(t, 0, summary.Matched)
}

func TestMatcherEpsilonTolerance(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertDebit(t, store, 15, "SUPPLIES", "40.00")
	withinEpsilon := insertReceipt(t, store, 15, "STAPLES", "40.01")
	insertReceipt(t, store, 15, "STAPLES", "40.05")

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)

	match, err := store.GetActiveMatchForEntity(ctx, model.EntityReceipt, withinEpsilon)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, match.Confidence, 1e-9, "same day, inexact amount")
}

func TestMatcherChannelWindows(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// A cheque clearing 3 days after the payment date is inside the cheque
	// window; an e-transfer landing 4 days late is outside its 1-day window.
	insertCredit(t, store, 13, "CHEQUE 42", "500.00")
	chequeID, err := store.InsertPayment(ctx, &model.Payment{
		Date:          testDate(10),
		ReserveNumber: "R-1001",
		Method:        model.MethodCheque,
		Amount:        dec("500.00"),
	})
	require.NoError(t, err)

	insertCredit(t, store, 24, "E-TRANSFER", "120.00")
	_, err = store.InsertPayment(ctx, &model.Payment{
		Date:          testDate(20),
		ReserveNumber: "R-1002",
		Method:        model.MethodETransfer,
		Amount:        dec("120.00"),
	})
	require.NoError(t, err)

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched, "only the cheque is inside its channel window")
	assert.Equal(t, 1, summary.NoMatch)

	match, err := store.GetActiveMatchForEntity(ctx, model.EntityPayment, chequeID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchActive, match.MatchStatus)
}

func TestMatcherDryRunPreventsDoubleBooking(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// Two debits competing for the same single receipt.
	insertDebit(t, store, 15, "FUEL A", "150.00")
	insertDebit(t, store, 15, "FUEL B", "150.00")
	insertReceipt(t, store, 15, "PETRO", "150.00")

	matcher := New(store, DefaultConfig())
	summary, err := matcher.Run(ctx, Options{Write: false})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched, "the receipt can only back one transaction")
	assert.Equal(t, 1, summary.NoMatch)

	// Nothing persisted in dry run.
	counts, err := store.CountBankTransactionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusUnreconciled])
}
