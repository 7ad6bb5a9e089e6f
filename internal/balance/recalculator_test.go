package balance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func insertCharter(t *testing.T, s service.Storage, reserve, totalDue string) {
	t.Helper()
	c := &model.Charter{ReserveNumber: reserve}
	if totalDue != "" {
		due := dec(totalDue)
		c.TotalAmountDue = &due
	}
	_, err := s.InsertCharter(context.Background(), c)
	require.NoError(t, err)
}

func insertPayment(t *testing.T, s service.Storage, reserve, amount string) {
	t.Helper()
	_, err := s.InsertPayment(context.Background(), &model.Payment{
		Date:          time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		ReserveNumber: reserve,
		Method:        model.MethodCard,
		Amount:        dec(amount),
	})
	require.NoError(t, err)
}

func TestRecalculateSumsPayments(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "300.00")
	for _, amount := range []string{"150.00", "100.00", "50.00"} {
		insertPayment(t, store, "R-1001", amount)
	}

	recalc := New(store)
	res, err := recalc.Recalculate(ctx, "R-1001", true)
	require.NoError(t, err)
	assert.True(t, res.PaidAmount.Equal(dec("300.00")), "paid = %s", res.PaidAmount)
	assert.True(t, res.Balance.IsZero(), "balance = %s", res.Balance)
	assert.True(t, res.Changed)

	got, err := store.GetCharterByReserve(ctx, "R-1001")
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(dec("300.00")))
	assert.True(t, got.Balance.IsZero())

	// Idempotent: same values, no write needed.
	again, err := recalc.Recalculate(ctx, "R-1001", true)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestRecalculateCancelledCharterBecomesCredit(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "200.00")
	insertPayment(t, store, "R-1001", "50.00")
	require.NoError(t, store.CancelCharter(ctx, "R-1001"))

	recalc := New(store)
	res, err := recalc.Recalculate(ctx, "R-1001", true)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.True(t, res.PaidAmount.Equal(dec("50.00")))
	assert.True(t, res.Balance.Equal(dec("-50.00")), "payment becomes credit, got %s", res.Balance)
}

func TestRecalculateNullTotalFlagsReview(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "")
	insertPayment(t, store, "R-1001", "80.00")

	recalc := New(store)
	res, err := recalc.Recalculate(ctx, "R-1001", true)
	require.NoError(t, err)
	assert.True(t, res.NeedsReview, "missing total due must be surfaced, not guessed")
	assert.True(t, res.Balance.Equal(dec("-80.00")), "NULL total treated as zero")

	got, err := store.GetCharterByReserve(ctx, "R-1001")
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
}

func TestRecalculateMissingCharter(t *testing.T) {
	store := setupStorage(t)
	recalc := New(store)

	_, err := recalc.Recalculate(context.Background(), "R-GONE", true)
	require.Error(t, err)
}

func TestRecalculateAll(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "300.00")
	insertPayment(t, store, "R-1001", "300.00")
	insertCharter(t, store, "R-1002", "100.00")
	insertPayment(t, store, "R-1002", "40.00")
	insertCharter(t, store, "R-1003", "")
	// Orphan: no charter R-GONE exists.
	insertPayment(t, store, "R-GONE", "25.00")

	recalc := New(store)
	summary, err := recalc.RecalculateAll(ctx, Options{Write: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Charters)
	assert.Equal(t, 3, summary.Changed)
	assert.Equal(t, 1, summary.NeedsReview)
	assert.Equal(t, 1, summary.Orphaned)

	got, err := store.GetCharterByReserve(ctx, "R-1002")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("60.00")))

	// The orphaned payment counted toward no charter.
	for _, reserve := range []string{"R-1001", "R-1002", "R-1003"} {
		c, getErr := store.GetCharterByReserve(ctx, reserve)
		require.NoError(t, getErr)
		total := c.PaidAmount.Add(decimal.Zero)
		assert.False(t, total.Equal(dec("25.00")), "orphan leaked into %s", reserve)
	}
}

func TestRecalculateAllDryRun(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "300.00")
	insertPayment(t, store, "R-1001", "300.00")

	recalc := New(store)
	summary, err := recalc.RecalculateAll(ctx, Options{Write: false})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Changed)

	got, err := store.GetCharterByReserve(ctx, "R-1001")
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero(), "dry run must not persist")
}

func TestVerify(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	insertCharter(t, store, "R-1001", "300.00")
	insertPayment(t, store, "R-1001", "120.00")

	charter, err := store.GetCharterByReserve(ctx, "R-1001")
	require.NoError(t, err)
	ok, expected, err := Verify(ctx, store, charter)
	require.NoError(t, err)
	assert.False(t, ok, "stored derived fields are stale")
	assert.True(t, expected.Equal(dec("180.00")))

	recalc := New(store)
	_, err = recalc.Recalculate(ctx, "R-1001", true)
	require.NoError(t, err)

	charter, err = store.GetCharterByReserve(ctx, "R-1001")
	require.NoError(t, err)
	ok, _, err = Verify(ctx, store, charter)
	require.NoError(t, err)
	assert.True(t, ok)
}
