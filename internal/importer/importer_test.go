package importer

import (
	"context"
	"testing"

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

func statementRows() []model.ImportRow {
	return []model.ImportRow{
		{
			AccountNumber:   "1001-222",
			TransactionDate: "2026-01-15",
			Description:     "FUEL PURCHASE",
			DebitAmount:     "150.00",
			SourceFile:      "jan.csv",
		},
		{
			AccountNumber:   "1001-222",
			TransactionDate: "2026-01-16",
			Description:     "E-TRANSFER DEPOSIT",
			CreditAmount:    "250.00",
			SourceFile:      "jan.csv",
		},
	}
}

func TestImportRowsIdempotent(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()
	opts := Options{Write: true, Actor: "test"}

	first, err := imp.ImportRows(ctx, statementRows(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Equal(t, 0, first.Skipped)
	assert.Empty(t, first.Rejected)

	// Importing the same statement again changes nothing.
	second, err := imp.ImportRows(ctx, statementRows(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Skipped)

	counts, err := store.CountBankTransactionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusUnreconciled])
}

func TestImportRowsRejectsMalformedRowByRow(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()

	rows := statementRows()
	rows = append(rows, model.ImportRow{
		AccountNumber:   "1001-222",
		TransactionDate: "not a date",
		Description:     "GARBAGE",
		DebitAmount:     "10.00",
		SourceFile:      "jan.csv",
	})

	summary, err := imp.ImportRows(ctx, rows, Options{Write: true, Actor: "test"})
	require.NoError(t, err, "a malformed row must not abort the batch")
	assert.Equal(t, 2, summary.Imported)
	require.Len(t, summary.Rejected, 1)
	assert.Equal(t, 3, summary.Rejected[0].Line)
}

func TestImportRowsReportCarriedLineNumbers(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()

	// The file reader numbers rows by their position in the file, counting
	// blank and undecodable lines, so a rejection names the real line.
	rows := statementRows()
	rows[0].Line = 2
	rows[1].Line = 4
	rows = append(rows, model.ImportRow{
		AccountNumber:   "1001-222",
		TransactionDate: "2026-01-17",
		Description:     "BOTH SIDES SET",
		DebitAmount:     "10.00",
		CreditAmount:    "10.00",
		SourceFile:      "jan.csv",
		Line:            7,
	})

	summary, err := imp.ImportRows(ctx, rows, Options{Write: true, Actor: "test"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported)
	require.Len(t, summary.Rejected, 1)
	assert.Equal(t, 7, summary.Rejected[0].Line)
}

func TestImportRowsDryRun(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()

	summary, err := imp.ImportRows(ctx, statementRows(), Options{Write: false, Actor: "test"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported, "dry run still reports what would happen")

	counts, err := store.CountBankTransactionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[model.StatusUnreconciled], "dry run must not persist")
}

func TestImportRowsLimit(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()

	summary, err := imp.ImportRows(ctx, statementRows(), Options{Write: true, Limit: 1, Actor: "test"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
}

func TestImportWritesAuditTrail(t *testing.T) {
	store := setupStorage(t)
	imp := New(store)
	ctx := context.Background()

	summary, err := imp.ImportRows(ctx, statementRows()[:1], Options{Write: true, Actor: "clerk"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Imported)

	txns, err := store.GetBankTransactionsByStatus(ctx, model.StatusUnreconciled, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	records, err := store.GetAuditRecords(ctx, "bank_transactions", txns[0].ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "import", records[0].Action)
	assert.Equal(t, "clerk", records[0].Actor)
	assert.Contains(t, records[0].Note, summary.BatchID)
}
