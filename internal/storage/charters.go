package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
)

const charterColumns = `
	id, reserve_number, total_amount_due, paid_amount, balance,
	cancelled, needs_review, created_at`

// InsertCharter saves a new charter.
func (s *SQLiteStorage) InsertCharter(ctx context.Context, c *model.Charter) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.insertCharterTx(ctx, s.db, c)
}

func (s *SQLiteStorage) insertCharterTx(ctx context.Context, q queryable, c *model.Charter) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("charter must not be nil")
	}
	if err := validateString(c.ReserveNumber, "reserveNumber"); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO charters (
			reserve_number, total_amount_due, paid_amount, balance, cancelled, needs_review
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		c.ReserveNumber,
		nullDecimal(c.TotalAmountDue),
		c.PaidAmount.StringFixed(2),
		c.Balance.StringFixed(2),
		c.Cancelled,
		c.NeedsReview,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert charter: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	c.ID = id
	return id, nil
}

// GetCharterByReserve retrieves a charter by its business key.
func (s *SQLiteStorage) GetCharterByReserve(ctx context.Context, reserveNumber string) (*model.Charter, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCharterByReserveTx(ctx, s.db, reserveNumber)
}

func (s *SQLiteStorage) getCharterByReserveTx(ctx context.Context, q queryable, reserveNumber string) (*model.Charter, error) {
	if err := validateString(reserveNumber, "reserveNumber"); err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `
		SELECT `+charterColumns+`
		FROM charters WHERE reserve_number = ?
	`, reserveNumber)
	return scanCharter(row)
}

// ListReserveNumbers pages through reserve numbers in id order for chunked
// batch recalculation. It returns the page and the last id seen, for use as
// the next afterID.
func (s *SQLiteStorage) ListReserveNumbers(ctx context.Context, afterID int64, limit int) ([]string, int64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}
	return s.listReserveNumbersTx(ctx, s.db, afterID, limit)
}

func (s *SQLiteStorage) listReserveNumbersTx(ctx context.Context, q queryable, afterID int64, limit int) ([]string, int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, reserve_number FROM charters
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reserve numbers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reserves []string
	lastID := afterID
	for rows.Next() {
		var id int64
		var reserve string
		if err := rows.Scan(&id, &reserve); err != nil {
			return nil, 0, fmt.Errorf("failed to scan reserve number: %w", err)
		}
		reserves = append(reserves, reserve)
		lastID = id
	}
	return reserves, lastID, rows.Err()
}

// UpdateCharterBalances writes the derived paid amount and balance. Only the
// balance recalculator calls this.
func (s *SQLiteStorage) UpdateCharterBalances(ctx context.Context, reserveNumber string, paid, balance decimal.Decimal, needsReview bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateCharterBalancesTx(ctx, s.db, reserveNumber, paid, balance, needsReview)
}

func (s *SQLiteStorage) updateCharterBalancesTx(ctx context.Context, q queryable, reserveNumber string, paid, balance decimal.Decimal, needsReview bool) error {
	if err := validateString(reserveNumber, "reserveNumber"); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE charters SET paid_amount = ?, balance = ?, needs_review = ?
		WHERE reserve_number = ?
	`, paid.StringFixed(2), balance.StringFixed(2), needsReview, reserveNumber)
	if err != nil {
		return fmt.Errorf("failed to update charter balances: %w", err)
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

// CancelCharter marks a charter cancelled and forces its total due to zero.
// Any payments already received become a credit when balances are next
// recalculated.
func (s *SQLiteStorage) CancelCharter(ctx context.Context, reserveNumber string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.cancelCharterTx(ctx, s.db, reserveNumber)
}

func (s *SQLiteStorage) cancelCharterTx(ctx context.Context, q queryable, reserveNumber string) error {
	if err := validateString(reserveNumber, "reserveNumber"); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE charters SET cancelled = 1, total_amount_due = '0.00'
		WHERE reserve_number = ?
	`, reserveNumber)
	if err != nil {
		return fmt.Errorf("failed to cancel charter: %w", err)
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

// GetChartersNeedingReview lists charters flagged for manual attention.
func (s *SQLiteStorage) GetChartersNeedingReview(ctx context.Context) ([]model.Charter, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getChartersNeedingReviewTx(ctx, s.db)
}

func (s *SQLiteStorage) getChartersNeedingReviewTx(ctx context.Context, q queryable) ([]model.Charter, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+charterColumns+`
		FROM charters WHERE needs_review = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query charters needing review: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var charters []model.Charter
	for rows.Next() {
		c, scanErr := scanCharter(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		charters = append(charters, *c)
	}
	return charters, rows.Err()
}

func scanCharter(row rowScanner) (*model.Charter, error) {
	var c model.Charter
	var totalDue decimal.NullDecimal
	var paid, balance string

	err := row.Scan(
		&c.ID,
		&c.ReserveNumber,
		&totalDue,
		&paid,
		&balance,
		&c.Cancelled,
		&c.NeedsReview,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan charter: %w", err)
	}

	if totalDue.Valid {
		c.TotalAmountDue = &totalDue.Decimal
	}
	c.PaidAmount, err = decimal.NewFromString(paid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse paid amount %q: %w", paid, err)
	}
	c.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}
	return &c, nil
}
