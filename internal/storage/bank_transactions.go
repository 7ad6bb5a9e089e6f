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

// InsertBankTransaction inserts an imported bank line. The unique hash makes
// the insert idempotent: a duplicate returns common.ErrDuplicateEntry and
// writes nothing.
func (s *SQLiteStorage) InsertBankTransaction(ctx context.Context, txn *model.BankTransaction) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.insertBankTransactionTx(ctx, s.db, txn)
}

func (s *SQLiteStorage) insertBankTransactionTx(ctx context.Context, q queryable, txn *model.BankTransaction) (int64, error) {
	if err := validateBankTransaction(txn); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO bank_transactions (
			account_number, txn_date, posted_date, description,
			debit, credit, running_balance, source_file, hash, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		txn.AccountNumber,
		txn.Date,
		nullTime(txn.PostedDate),
		txn.Description,
		nullDecimal(txn.Debit),
		nullDecimal(txn.Credit),
		nullDecimal(txn.RunningBalance),
		txn.SourceFile,
		txn.Hash,
		string(model.StatusUnreconciled),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bank transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, common.ErrDuplicateEntry
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	txn.ID = id
	return id, nil
}

const bankTransactionColumns = `
	id, account_number, txn_date, posted_date, description,
	debit, credit, running_balance, source_file, hash, status, flag_reason, created_at`

// GetBankTransactionByID retrieves a single bank transaction.
func (s *SQLiteStorage) GetBankTransactionByID(ctx context.Context, id int64) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBankTransactionByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getBankTransactionByIDTx(ctx context.Context, q queryable, id int64) (*model.BankTransaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+bankTransactionColumns+`
		FROM bank_transactions WHERE id = ?
	`, id)
	return scanBankTransaction(row)
}

// GetBankTransactionByHash retrieves a bank transaction by its content hash.
func (s *SQLiteStorage) GetBankTransactionByHash(ctx context.Context, hash string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBankTransactionByHashTx(ctx, s.db, hash)
}

func (s *SQLiteStorage) getBankTransactionByHashTx(ctx context.Context, q queryable, hash string) (*model.BankTransaction, error) {
	if err := validateString(hash, "hash"); err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `
		SELECT `+bankTransactionColumns+`
		FROM bank_transactions WHERE hash = ?
	`, hash)
	return scanBankTransaction(row)
}

// BankTransactionHashExists reports whether a row with this hash was already imported.
func (s *SQLiteStorage) BankTransactionHashExists(ctx context.Context, hash string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	return s.bankTransactionHashExistsTx(ctx, s.db, hash)
}

func (s *SQLiteStorage) bankTransactionHashExistsTx(ctx context.Context, q queryable, hash string) (bool, error) {
	if err := validateString(hash, "hash"); err != nil {
		return false, err
	}
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bank_transactions WHERE hash = ?)
	`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check hash existence: %w", err)
	}
	return exists, nil
}

// GetBankTransactionsByStatus lists transactions in one reconciliation
// status, oldest first, id-ordered within a day for reproducible batches.
func (s *SQLiteStorage) GetBankTransactionsByStatus(ctx context.Context, status model.ReconciliationStatus, limit int) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBankTransactionsByStatusTx(ctx, s.db, status, limit)
}

func (s *SQLiteStorage) getBankTransactionsByStatusTx(ctx context.Context, q queryable, status model.ReconciliationStatus, limit int) ([]model.BankTransaction, error) {
	query := `
		SELECT ` + bankTransactionColumns + `
		FROM bank_transactions
		WHERE status = ?
		ORDER BY txn_date ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.BankTransaction
	for rows.Next() {
		txn, scanErr := scanBankTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// UpdateBankTransactionStatus moves a transaction through its lifecycle.
// The flag reason is kept only while the transaction is flagged.
func (s *SQLiteStorage) UpdateBankTransactionStatus(ctx context.Context, id int64, status model.ReconciliationStatus, flagReason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateBankTransactionStatusTx(ctx, s.db, id, status, flagReason)
}

func (s *SQLiteStorage) updateBankTransactionStatusTx(ctx context.Context, q queryable, id int64, status model.ReconciliationStatus, flagReason string) error {
	if status != model.StatusFlagged {
		flagReason = ""
	}
	res, err := q.ExecContext(ctx, `
		UPDATE bank_transactions SET status = ?, flag_reason = ? WHERE id = ?
	`, string(status), flagReason, id)
	if err != nil {
		return fmt.Errorf("failed to update bank transaction status: %w", err)
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

// CountBankTransactionsByStatus returns transaction counts per status.
func (s *SQLiteStorage) CountBankTransactionsByStatus(ctx context.Context) (map[model.ReconciliationStatus]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.countBankTransactionsByStatusTx(ctx, s.db)
}

func (s *SQLiteStorage) countBankTransactionsByStatusTx(ctx context.Context, q queryable) (map[model.ReconciliationStatus]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM bank_transactions GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count bank transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.ReconciliationStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[model.ReconciliationStatus(status)] = count
	}
	return counts, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBankTransaction(row rowScanner) (*model.BankTransaction, error) {
	var txn model.BankTransaction
	var posted sql.NullTime
	var debit, credit, running decimal.NullDecimal
	var source sql.NullString
	var status string

	err := row.Scan(
		&txn.ID,
		&txn.AccountNumber,
		&txn.Date,
		&posted,
		&txn.Description,
		&debit,
		&credit,
		&running,
		&source,
		&txn.Hash,
		&status,
		&txn.FlagReason,
		&txn.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
	}

	txn.Status = model.ReconciliationStatus(status)
	if posted.Valid {
		txn.PostedDate = posted.Time
	}
	if source.Valid {
		txn.SourceFile = source.String
	}
	if debit.Valid {
		txn.Debit = &debit.Decimal
	}
	if credit.Valid {
		txn.Credit = &credit.Decimal
	}
	if running.Valid {
		txn.RunningBalance = &running.Decimal
	}
	return &txn, nil
}
