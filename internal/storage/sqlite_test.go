package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
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

func candidateFilter(start, end time.Time, amount, epsilon string) service.CandidateFilter {
	return service.CandidateFilter{
		Start:   start,
		End:     end,
		Amount:  dec(amount),
		Epsilon: dec(epsilon),
	}
}

func makeBankTransaction(day int, description, debit, credit string) *model.BankTransaction {
	txn := &model.BankTransaction{
		Date:          testDate(day),
		PostedDate:    testDate(day),
		AccountNumber: "1001-222",
		Description:   description,
		SourceFile:    "jan.csv",
		Status:        model.StatusUnreconciled,
	}
	if debit != "" {
		d := dec(debit)
		txn.Debit = &d
	}
	if credit != "" {
		c := dec(credit)
		txn.Credit = &c
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func TestInsertBankTransactionIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := makeBankTransaction(15, "FUEL PURCHASE", "150.00", "")
	id, err := store.InsertBankTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	// Same fingerprint again: skipped softly.
	dup := makeBankTransaction(15, "fuel  purchase", "150.00", "")
	if _, err := store.InsertBankTransaction(ctx, dup); !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}

	exists, err := store.BankTransactionHashExists(ctx, txn.Hash)
	if err != nil {
		t.Fatalf("Failed to check hash: %v", err)
	}
	if !exists {
		t.Error("hash should exist")
	}

	counts, err := store.CountBankTransactionsByStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts[model.StatusUnreconciled] != 1 {
		t.Errorf("unreconciled count = %d, want 1", counts[model.StatusUnreconciled])
	}
}

func TestBankTransactionRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	balance := dec("1234.56")
	txn := makeBankTransaction(15, "E-TRANSFER DEPOSIT", "", "250.00")
	txn.RunningBalance = &balance

	id, err := store.InsertBankTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	got, err := store.GetBankTransactionByID(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Credit == nil || !got.Credit.Equal(dec("250.00")) {
		t.Errorf("credit = %v, want 250.00", got.Credit)
	}
	if got.Debit != nil {
		t.Error("debit should be nil")
	}
	if got.RunningBalance == nil || !got.RunningBalance.Equal(balance) {
		t.Errorf("running balance = %v, want %s", got.RunningBalance, balance)
	}
	if !got.Date.Equal(txn.Date) {
		t.Errorf("date = %s, want %s", got.Date, txn.Date)
	}

	byHash, err := store.GetBankTransactionByHash(ctx, txn.Hash)
	if err != nil {
		t.Fatalf("Failed to get by hash: %v", err)
	}
	if byHash.ID != id {
		t.Errorf("id by hash = %d, want %d", byHash.ID, id)
	}
}

func TestUpdateBankTransactionStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.InsertBankTransaction(ctx, makeBankTransaction(15, "CHEQUE 42", "90.00", ""))
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	if err := store.UpdateBankTransactionStatus(ctx, id, model.StatusFlagged, "stored balance disagrees"); err != nil {
		t.Fatalf("Failed to flag: %v", err)
	}
	got, err := store.GetBankTransactionByID(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Status != model.StatusFlagged || got.FlagReason != "stored balance disagrees" {
		t.Errorf("got status %s reason %q", got.Status, got.FlagReason)
	}

	// Clearing the flag wipes the reason too.
	if err := store.UpdateBankTransactionStatus(ctx, id, model.StatusMatched, ""); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	got, _ = store.GetBankTransactionByID(ctx, id)
	if got.Status != model.StatusMatched || got.FlagReason != "" {
		t.Errorf("got status %s reason %q after clear", got.Status, got.FlagReason)
	}

	if err := store.UpdateBankTransactionStatus(ctx, 9999, model.StatusMatched, ""); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestGetUnlinkedReceiptsFilter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	insert := func(day int, amount string, linked bool) int64 {
		r := &model.Receipt{Date: testDate(day), Vendor: "PETRO", GrossAmount: dec(amount)}
		id, err := store.InsertReceipt(ctx, r)
		if err != nil {
			t.Fatalf("Failed to insert receipt: %v", err)
		}
		if linked {
			txnID, txErr := store.InsertBankTransaction(ctx, makeBankTransaction(day, fmt.Sprintf("LINKED %d", id), amount, ""))
			if txErr != nil {
				t.Fatalf("Failed to insert transaction: %v", txErr)
			}
			if err := store.UpdateReceiptBankLink(ctx, id, &txnID); err != nil {
				t.Fatalf("Failed to link: %v", err)
			}
		}
		return id
	}

	inWindow := insert(15, "150.00", false)
	insert(15, "150.00", true)  // linked, excluded
	insert(25, "150.00", false) // outside window
	insert(15, "151.00", false) // outside epsilon

	got, err := store.GetUnlinkedReceipts(ctx, candidateFilter(testDate(13), testDate(17), "150.00", "0.01"))
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(got) != 1 || got[0].ID != inWindow {
		t.Errorf("got %d candidates, want exactly receipt %d", len(got), inWindow)
	}
}

func TestSumPaymentsByReserve(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, amount := range []string{"150.00", "100.00", "50.00"} {
		_, err := store.InsertPayment(ctx, &model.Payment{
			Date:          testDate(10),
			ReserveNumber: "R-1001",
			Method:        model.MethodCard,
			Amount:        dec(amount),
		})
		if err != nil {
			t.Fatalf("Failed to insert payment: %v", err)
		}
	}
	// A different charter's payment stays out of the sum.
	if _, err := store.InsertPayment(ctx, &model.Payment{
		Date:          testDate(10),
		ReserveNumber: "R-2002",
		Method:        model.MethodCash,
		Amount:        dec("999.99"),
	}); err != nil {
		t.Fatalf("Failed to insert payment: %v", err)
	}

	sum, err := store.SumPaymentsByReserve(ctx, "R-1001")
	if err != nil {
		t.Fatalf("Failed to sum: %v", err)
	}
	if !sum.Equal(dec("300.00")) {
		t.Errorf("sum = %s, want 300.00", sum)
	}

	empty, err := store.SumPaymentsByReserve(ctx, "R-9999")
	if err != nil {
		t.Fatalf("Failed to sum empty: %v", err)
	}
	if !empty.IsZero() {
		t.Errorf("empty sum = %s, want 0", empty)
	}
}

func TestGetOrphanedPayments(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	due := dec("300.00")
	if _, err := store.InsertCharter(ctx, &model.Charter{ReserveNumber: "R-1001", TotalAmountDue: &due}); err != nil {
		t.Fatalf("Failed to insert charter: %v", err)
	}
	if _, err := store.InsertPayment(ctx, &model.Payment{
		Date: testDate(10), ReserveNumber: "R-1001", Method: model.MethodCard, Amount: dec("150.00"),
	}); err != nil {
		t.Fatalf("Failed to insert payment: %v", err)
	}
	orphanID, err := store.InsertPayment(ctx, &model.Payment{
		Date: testDate(10), ReserveNumber: "R-GONE", Method: model.MethodCheque, Amount: dec("80.00"),
	})
	if err != nil {
		t.Fatalf("Failed to insert payment: %v", err)
	}

	orphans, err := store.GetOrphanedPayments(ctx)
	if err != nil {
		t.Fatalf("Failed to query orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != orphanID {
		t.Errorf("got %d orphans, want exactly payment %d", len(orphans), orphanID)
	}
}

func TestCharterLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	due := dec("300.00")
	if _, err := store.InsertCharter(ctx, &model.Charter{ReserveNumber: "R-1001", TotalAmountDue: &due}); err != nil {
		t.Fatalf("Failed to insert charter: %v", err)
	}

	if err := store.UpdateCharterBalances(ctx, "R-1001", dec("200.00"), dec("100.00"), false); err != nil {
		t.Fatalf("Failed to update balances: %v", err)
	}
	got, err := store.GetCharterByReserve(ctx, "R-1001")
	if err != nil {
		t.Fatalf("Failed to get charter: %v", err)
	}
	if !got.PaidAmount.Equal(dec("200.00")) || !got.Balance.Equal(dec("100.00")) {
		t.Errorf("paid %s balance %s, want 200.00/100.00", got.PaidAmount, got.Balance)
	}

	if err := store.CancelCharter(ctx, "R-1001"); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}
	got, _ = store.GetCharterByReserve(ctx, "R-1001")
	if !got.Cancelled {
		t.Error("charter should be cancelled")
	}
	if got.EffectiveTotalDue().Sign() != 0 {
		t.Errorf("cancelled total due = %s, want 0", got.EffectiveTotalDue())
	}

	if _, err := store.GetCharterByReserve(ctx, "R-NOPE"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListReserveNumbersPagination(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		reserve := fmt.Sprintf("R-%04d", i)
		if _, err := store.InsertCharter(ctx, &model.Charter{ReserveNumber: reserve}); err != nil {
			t.Fatalf("Failed to insert charter: %v", err)
		}
	}

	var seen []string
	var afterID int64
	for {
		page, lastID, err := store.ListReserveNumbers(ctx, afterID, 2)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(seen, page...)
		afterID = lastID
	}
	if len(seen) != 5 {
		t.Errorf("paginated over %d charters, want 5", len(seen))
	}
}

func TestActiveMatchUniqueness(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txnID, err := store.InsertBankTransaction(ctx, makeBankTransaction(15, "CARD SETTLEMENT", "150.00", ""))
	if err != nil {
		t.Fatalf("Failed to insert transaction: %v", err)
	}
	receiptID, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "PETRO", GrossAmount: dec("150.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}

	first := &model.MatchRecord{
		ID:                   uuid.New().String(),
		BankingTransactionID: txnID,
		EntityType:           model.EntityReceipt,
		EntityID:             receiptID,
		MatchDate:            testDate(16),
		MatchType:            model.MatchAutoGenerated,
		MatchStatus:          model.MatchActive,
		Confidence:           1.0,
		CreatedBy:            "test",
	}
	if err := store.InsertMatchRecord(ctx, first); err != nil {
		t.Fatalf("Failed to insert match: %v", err)
	}

	// Second active record for the same receipt violates the schema.
	second := *first
	second.ID = uuid.New().String()
	if err := store.InsertMatchRecord(ctx, &second); !errors.Is(err, common.ErrAlreadyLinked) {
		t.Errorf("expected ErrAlreadyLinked, got %v", err)
	}

	// Superseding frees the entity for a new active link.
	if err := store.SupersedeMatchRecord(ctx, first.ID, "manual correction"); err != nil {
		t.Fatalf("Failed to supersede: %v", err)
	}
	if err := store.InsertMatchRecord(ctx, &second); err != nil {
		t.Errorf("insert after supersede failed: %v", err)
	}

	active, err := store.GetActiveMatchForEntity(ctx, model.EntityReceipt, receiptID)
	if err != nil {
		t.Fatalf("Failed to get active match: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active match = %s, want %s", active.ID, second.ID)
	}

	all, err := store.GetMatchRecordsForTransaction(ctx, txnID)
	if err != nil {
		t.Fatalf("Failed to get records: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d records, want 2 (superseded kept)", len(all))
	}

	// A primary key collision on a free entity is a plain constraint
	// error, not an already-linked report.
	otherID, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "DINER", GrossAmount: dec("150.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}
	dup := *first
	dup.EntityID = otherID
	if err := store.InsertMatchRecord(ctx, &dup); err == nil || errors.Is(err, common.ErrAlreadyLinked) {
		t.Errorf("expected plain constraint error for duplicate id, got %v", err)
	}
}

func TestDeleteReceiptGuard(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txnID, err := store.InsertBankTransaction(ctx, makeBankTransaction(15, "CARD SETTLEMENT", "150.00", ""))
	if err != nil {
		t.Fatalf("Failed to insert transaction: %v", err)
	}
	receiptID, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "PETRO", GrossAmount: dec("150.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}
	if err := store.InsertMatchRecord(ctx, &model.MatchRecord{
		ID:                   uuid.New().String(),
		BankingTransactionID: txnID,
		EntityType:           model.EntityReceipt,
		EntityID:             receiptID,
		MatchDate:            testDate(16),
		MatchType:            model.MatchManual,
		MatchStatus:          model.MatchActive,
		CreatedBy:            "test",
	}); err != nil {
		t.Fatalf("Failed to insert match: %v", err)
	}

	if err := store.DeleteReceipt(ctx, receiptID); !errors.Is(err, common.ErrAlreadyLinked) {
		t.Errorf("expected ErrAlreadyLinked, got %v", err)
	}

	unlinked, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "PETRO", GrossAmount: dec("75.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}
	if err := store.DeleteReceipt(ctx, unlinked); err != nil {
		t.Fatalf("Failed to delete unlinked receipt: %v", err)
	}
	if _, err := store.GetReceiptByID(ctx, unlinked); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFindDuplicateReceiptCandidates(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	linkedID, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "CATERER", GrossAmount: dec("75.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}
	txnID, err := store.InsertBankTransaction(ctx, makeBankTransaction(15, "CATERER", "75.00", ""))
	if err != nil {
		t.Fatalf("Failed to insert transaction: %v", err)
	}
	if err := store.UpdateReceiptBankLink(ctx, linkedID, &txnID); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	dupID, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(15), Vendor: "CATERER", GrossAmount: dec("75.00")})
	if err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}
	// A lone receipt is not a duplicate.
	if _, err := store.InsertReceipt(ctx, &model.Receipt{Date: testDate(16), Vendor: "CATERER", GrossAmount: dec("75.00")}); err != nil {
		t.Fatalf("Failed to insert receipt: %v", err)
	}

	groups, err := store.FindDuplicateReceiptCandidates(ctx)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("got %d groups, want one group of 2", len(groups))
	}
	found := map[int64]bool{}
	for _, r := range groups[0] {
		found[r.ID] = true
	}
	if !found[linkedID] || !found[dupID] {
		t.Error("group should contain both the linked original and the unlinked copy")
	}
}

func TestAuditTrail(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	snapshot, err := SnapshotJSON(map[string]string{"vendor": "PETRO"})
	if err != nil {
		t.Fatalf("Failed to snapshot: %v", err)
	}
	rec := &service.AuditRecord{
		OccurredAt:  testDate(20),
		Actor:       "tester",
		Action:      "delete",
		EntityTable: "receipts",
		EntityID:    7,
		PriorState:  snapshot,
		Note:        "confirmed duplicate",
	}
	if err := store.AppendAuditRecord(ctx, rec); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	got, err := store.GetAuditRecords(ctx, "receipts", 7)
	if err != nil {
		t.Fatalf("Failed to get records: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Action != "delete" || got[0].PriorState != snapshot || got[0].Actor != "tester" {
		t.Errorf("record round trip mismatch: %+v", got[0])
	}

	none, err := store.GetAuditRecords(ctx, "receipts", 8)
	if err != nil {
		t.Fatalf("Failed to get records: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d records for untouched entity, want 0", len(none))
	}
}

func TestRunInTxDryRunRollsBack(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	err := RunInTx(ctx, store, false, func(tx service.Transaction) error {
		_, err := tx.InsertBankTransaction(ctx, makeBankTransaction(15, "PREVIEW ONLY", "10.00", ""))
		return err
	})
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	counts, _ := store.CountBankTransactionsByStatus(ctx)
	if counts[model.StatusUnreconciled] != 0 {
		t.Errorf("dry run leaked %d rows", counts[model.StatusUnreconciled])
	}

	err = RunInTx(ctx, store, true, func(tx service.Transaction) error {
		_, err := tx.InsertBankTransaction(ctx, makeBankTransaction(15, "FOR REAL", "10.00", ""))
		return err
	})
	if err != nil {
		t.Fatalf("Write run failed: %v", err)
	}
	counts, _ = store.CountBankTransactionsByStatus(ctx)
	if counts[model.StatusUnreconciled] != 1 {
		t.Errorf("write run persisted %d rows, want 1", counts[model.StatusUnreconciled])
	}

	// A failing function rolls back even in write mode.
	wantErr := errors.New("boom")
	err = RunInTx(ctx, store, true, func(tx service.Transaction) error {
		if _, insErr := tx.InsertBankTransaction(ctx, makeBankTransaction(16, "DOOMED", "10.00", "")); insErr != nil {
			return insErr
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected boom, got %v", err)
	}
	counts, _ = store.CountBankTransactionsByStatus(ctx)
	if counts[model.StatusUnreconciled] != 1 {
		t.Errorf("failed write leaked rows: %d", counts[model.StatusUnreconciled])
	}
}
