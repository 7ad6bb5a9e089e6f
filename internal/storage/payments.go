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

const paymentColumns = `
	id, reserve_number, amount, payment_date, method, banking_transaction_id, created_at`

// InsertPayment saves a new payment against a charter's reserve number.
func (s *SQLiteStorage) InsertPayment(ctx context.Context, p *model.Payment) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.insertPaymentTx(ctx, s.db, p)
}

func (s *SQLiteStorage) insertPaymentTx(ctx context.Context, q queryable, p *model.Payment) (int64, error) {
	if err := validatePayment(p); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO payments (
			reserve_number, amount, payment_date, method, banking_transaction_id
		) VALUES (?, ?, ?, ?, ?)
	`,
		p.ReserveNumber,
		p.Amount.StringFixed(2),
		p.Date,
		string(p.Method),
		nullInt64(p.BankingTransactionID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	p.ID = id
	return id, nil
}

// GetPaymentByID retrieves a single payment.
func (s *SQLiteStorage) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPaymentByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getPaymentByIDTx(ctx context.Context, q queryable, id int64) (*model.Payment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE id = ?
	`, id)
	return scanPayment(row)
}

// GetUnlinkedPayments returns match candidates among payments, mirroring
// GetUnlinkedReceipts. Ordered by id for deterministic matching.
func (s *SQLiteStorage) GetUnlinkedPayments(ctx context.Context, f service.CandidateFilter) ([]model.Payment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUnlinkedPaymentsTx(ctx, s.db, f)
}

func (s *SQLiteStorage) getUnlinkedPaymentsTx(ctx context.Context, q queryable, f service.CandidateFilter) ([]model.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.payment_date >= ? AND p.payment_date <= ?
		  AND CAST(p.amount AS REAL) BETWEEN ? AND ?
		  AND p.banking_transaction_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM match_records m
			WHERE m.entity_type = 'payment' AND m.entity_id = p.id
			  AND m.match_status = 'active'
		  )
		ORDER BY p.id ASC
	`,
		f.Start, f.End,
		f.Amount.Sub(f.Epsilon).InexactFloat64(),
		f.Amount.Add(f.Epsilon).InexactFloat64(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPayments(rows)
}

// UpdatePaymentBankLink sets or clears a payment's bank transaction link.
// Callers must write an audit record first when clearing an existing link.
func (s *SQLiteStorage) UpdatePaymentBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updatePaymentBankLinkTx(ctx, s.db, id, bankingTransactionID)
}

func (s *SQLiteStorage) updatePaymentBankLinkTx(ctx context.Context, q queryable, id int64, bankingTransactionID *int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payments SET banking_transaction_id = ? WHERE id = ?
	`, nullInt64(bankingTransactionID), id)
	if err != nil {
		return fmt.Errorf("failed to update payment bank link: %w", err)
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

// SumPaymentsByReserve returns the payment total for one reserve number.
// This aggregate, never a cached field, is the source of truth for a
// charter's paid amount.
func (s *SQLiteStorage) SumPaymentsByReserve(ctx context.Context, reserveNumber string) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}
	return s.sumPaymentsByReserveTx(ctx, s.db, reserveNumber)
}

func (s *SQLiteStorage) sumPaymentsByReserveTx(ctx context.Context, q queryable, reserveNumber string) (decimal.Decimal, error) {
	if err := validateString(reserveNumber, "reserveNumber"); err != nil {
		return decimal.Zero, err
	}

	// Sum amount text in hundredths to avoid float drift.
	var cents sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT SUM(CAST(ROUND(CAST(amount AS REAL) * 100) AS INTEGER))
		FROM payments WHERE reserve_number = ?
	`, reserveNumber).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	if !cents.Valid {
		return decimal.Zero, nil
	}
	return decimal.New(cents.Int64, -2), nil
}

// GetOrphanedPayments returns payments whose reserve number has no charter.
// These are excluded from aggregates and flagged, never coerced into a
// guessed charter.
func (s *SQLiteStorage) GetOrphanedPayments(ctx context.Context) ([]model.Payment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getOrphanedPaymentsTx(ctx, s.db)
}

func (s *SQLiteStorage) getOrphanedPaymentsTx(ctx context.Context, q queryable) ([]model.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE NOT EXISTS (
			SELECT 1 FROM charters c WHERE c.reserve_number = p.reserve_number
		)
		ORDER BY p.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]model.Payment, error) {
	var payments []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var p model.Payment
	var amount, method string
	var bankID sql.NullInt64

	err := row.Scan(
		&p.ID,
		&p.ReserveNumber,
		&amount,
		&p.Date,
		&method,
		&bankID,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment amount %q: %w", amount, err)
	}
	p.Method = model.PaymentMethod(method)
	if bankID.Valid {
		p.BankingTransactionID = &bankID.Int64
	}
	return &p, nil
}
