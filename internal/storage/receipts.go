package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
)

const receiptColumns = `
	id, receipt_date, vendor, description, gross_amount, gst_amount,
	banking_transaction_id, split_group_id, is_split_receipt,
	potential_duplicate, verified_by_edit, created_at`

// InsertReceipt saves a new receipt.
func (s *SQLiteStorage) InsertReceipt(ctx context.Context, r *model.Receipt) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.insertReceiptTx(ctx, s.db, r)
}

func (s *SQLiteStorage) insertReceiptTx(ctx context.Context, q queryable, r *model.Receipt) (int64, error) {
	if err := validateReceipt(r); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO receipts (
			receipt_date, vendor, description, gross_amount, gst_amount,
			banking_transaction_id, split_group_id, is_split_receipt,
			potential_duplicate, verified_by_edit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Date,
		r.Vendor,
		r.Description,
		r.GrossAmount.StringFixed(2),
		nullDecimal(r.GSTAmount),
		nullInt64(r.BankingTransactionID),
		nullInt64(r.SplitGroupID),
		r.IsSplitReceipt,
		r.PotentialDuplicate,
		r.VerifiedByEdit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert receipt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	r.ID = id
	return id, nil
}

// GetReceiptByID retrieves a single receipt.
func (s *SQLiteStorage) GetReceiptByID(ctx context.Context, id int64) (*model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getReceiptByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getReceiptByIDTx(ctx context.Context, q queryable, id int64) (*model.Receipt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts WHERE id = ?
	`, id)
	return scanReceipt(row)
}

// GetUnlinkedReceipts returns match candidates: receipts inside the date
// window, within amount epsilon, without a bank link and without an active
// match record. Ordered by id for deterministic, reproducible matching.
func (s *SQLiteStorage) GetUnlinkedReceipts(ctx context.Context, f service.CandidateFilter) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUnlinkedReceiptsTx(ctx, s.db, f)
}

func (s *SQLiteStorage) getUnlinkedReceiptsTx(ctx context.Context, q queryable, f service.CandidateFilter) ([]model.Receipt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts r
		WHERE r.receipt_date >= ? AND r.receipt_date <= ?
		  AND CAST(r.gross_amount AS REAL) BETWEEN ? AND ?
		  AND r.banking_transaction_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM match_records m
			WHERE m.entity_type = 'receipt' AND m.entity_id = r.id
			  AND m.match_status = 'active'
		  )
		ORDER BY r.id ASC
	`,
		f.Start, f.End,
		f.Amount.Sub(f.Epsilon).InexactFloat64(),
		f.Amount.Add(f.Epsilon).InexactFloat64(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectReceipts(rows)
}

// GetReceiptsForSplitScan returns receipts the split resolver considers,
// oldest first.
func (s *SQLiteStorage) GetReceiptsForSplitScan(ctx context.Context, limit int) ([]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getReceiptsForSplitScanTx(ctx, s.db, limit)
}

func (s *SQLiteStorage) getReceiptsForSplitScanTx(ctx context.Context, q queryable, limit int) ([]model.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + `
		FROM receipts
		ORDER BY receipt_date ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts for split scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectReceipts(rows)
}

// UpdateReceiptSplitGroup assigns or clears a receipt's split family
// membership and duplicate flag.
func (s *SQLiteStorage) UpdateReceiptSplitGroup(ctx context.Context, id int64, splitGroupID *int64, isSplit, potentialDuplicate bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateReceiptSplitGroupTx(ctx, s.db, id, splitGroupID, isSplit, potentialDuplicate)
}

func (s *SQLiteStorage) updateReceiptSplitGroupTx(ctx context.Context, q queryable, id int64, splitGroupID *int64, isSplit, potentialDuplicate bool) error {
	res, err := q.ExecContext(ctx, `
		UPDATE receipts
		SET split_group_id = ?, is_split_receipt = ?, potential_duplicate = ?
		WHERE id = ?
	`, nullInt64(splitGroupID), isSplit, potentialDuplicate, id)
	if err != nil {
		return fmt.Errorf("failed to update receipt split group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// UpdateReceiptBankLink sets or clears a receipt's bank transaction link.
// Callers must write an audit record first when clearing an existing link.
func (s *SQLiteStorage) UpdateReceiptBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateReceiptBankLinkTx(ctx, s.db, id, bankingTransactionID)
}

func (s *SQLiteStorage) updateReceiptBankLinkTx(ctx context.Context, q queryable, id int64, bankingTransactionID *int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE receipts SET banking_transaction_id = ? WHERE id = ?
	`, nullInt64(bankingTransactionID), id)
	if err != nil {
		return fmt.Errorf("failed to update receipt bank link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DeleteReceipt removes a receipt. Callers must have written an audit record
// with a snapshot of the row first; a receipt with an active match record
// cannot be deleted.
func (s *SQLiteStorage) DeleteReceipt(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.deleteReceiptTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteReceiptTx(ctx context.Context, q queryable, id int64) error {
	match, err := s.getActiveMatchForEntityTx(ctx, q, model.EntityReceipt, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if match != nil {
		return fmt.Errorf("%w: receipt %d has an active match record", common.ErrAlreadyLinked, id)
	}

	res, err := q.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// FindDuplicateReceiptCandidates groups receipts with identical date and
// amount where at least one lacks a bank link. Surfaced for human review only.
func (s *SQLiteStorage) FindDuplicateReceiptCandidates(ctx context.Context) ([][]model.Receipt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.findDuplicateReceiptCandidatesTx(ctx, s.db)
}

func (s *SQLiteStorage) findDuplicateReceiptCandidatesTx(ctx context.Context, q queryable) ([][]model.Receipt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts r
		WHERE (r.receipt_date, r.gross_amount) IN (
			SELECT receipt_date, gross_amount
			FROM receipts
			GROUP BY receipt_date, gross_amount
			HAVING COUNT(*) > 1
			   AND SUM(CASE WHEN banking_transaction_id IS NULL THEN 1 ELSE 0 END) > 0
		)
		ORDER BY r.receipt_date ASC, r.gross_amount ASC, r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	receipts, err := collectReceipts(rows)
	if err != nil {
		return nil, err
	}

	// Receipts arrive sorted by (date, amount); slice into groups.
	var groups [][]model.Receipt
	for i := 0; i < len(receipts); {
		j := i + 1
		for j < len(receipts) &&
			receipts[j].Date.Equal(receipts[i].Date) &&
			receipts[j].GrossAmount.Equal(receipts[i].GrossAmount) {
			j++
		}
		groups = append(groups, receipts[i:j])
		i = j
	}
	return groups, nil
}

func collectReceipts(rows *sql.Rows) ([]model.Receipt, error) {
	var receipts []model.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *r)
	}
	return receipts, rows.Err()
}

func scanReceipt(row rowScanner) (*model.Receipt, error) {
	var r model.Receipt
	var gross string
	var gst decimal.NullDecimal
	var bankID, splitID sql.NullInt64

	err := row.Scan(
		&r.ID,
		&r.Date,
		&r.Vendor,
		&r.Description,
		&gross,
		&gst,
		&bankID,
		&splitID,
		&r.IsSplitReceipt,
		&r.PotentialDuplicate,
		&r.VerifiedByEdit,
		&r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan receipt: %w", err)
	}

	r.GrossAmount, err = decimal.NewFromString(gross)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt amount %q: %w", gross, err)
	}
	if gst.Valid {
		r.GSTAmount = &gst.Decimal
	}
	if bankID.Valid {
		r.BankingTransactionID = &bankID.Int64
	}
	if splitID.Valid {
		r.SplitGroupID = &splitID.Int64
	}
	return &r, nil
}
