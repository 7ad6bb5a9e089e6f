// Package storage implements the ledger store on SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// NewBackupManager creates a backup manager for this storage instance.
func (s *SQLiteStorage) NewBackupManager() (*BackupManager, error) {
	return NewBackupManager(s.db, s.dbPath)
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.

func (t *sqliteTransaction) InsertBankTransaction(ctx context.Context, txn *model.BankTransaction) (int64, error) {
	return t.storage.insertBankTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTransaction) GetBankTransactionByID(ctx context.Context, id int64) (*model.BankTransaction, error) {
	return t.storage.getBankTransactionByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetBankTransactionByHash(ctx context.Context, hash string) (*model.BankTransaction, error) {
	return t.storage.getBankTransactionByHashTx(ctx, t.tx, hash)
}

func (t *sqliteTransaction) BankTransactionHashExists(ctx context.Context, hash string) (bool, error) {
	return t.storage.bankTransactionHashExistsTx(ctx, t.tx, hash)
}

func (t *sqliteTransaction) GetBankTransactionsByStatus(ctx context.Context, status model.ReconciliationStatus, limit int) ([]model.BankTransaction, error) {
	return t.storage.getBankTransactionsByStatusTx(ctx, t.tx, status, limit)
}

func (t *sqliteTransaction) UpdateBankTransactionStatus(ctx context.Context, id int64, status model.ReconciliationStatus, flagReason string) error {
	return t.storage.updateBankTransactionStatusTx(ctx, t.tx, id, status, flagReason)
}

func (t *sqliteTransaction) CountBankTransactionsByStatus(ctx context.Context) (map[model.ReconciliationStatus]int, error) {
	return t.storage.countBankTransactionsByStatusTx(ctx, t.tx)
}

func (t *sqliteTransaction) InsertReceipt(ctx context.Context, r *model.Receipt) (int64, error) {
	return t.storage.insertReceiptTx(ctx, t.tx, r)
}

func (t *sqliteTransaction) GetReceiptByID(ctx context.Context, id int64) (*model.Receipt, error) {
	return t.storage.getReceiptByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetUnlinkedReceipts(ctx context.Context, f service.CandidateFilter) ([]model.Receipt, error) {
	return t.storage.getUnlinkedReceiptsTx(ctx, t.tx, f)
}

func (t *sqliteTransaction) GetReceiptsForSplitScan(ctx context.Context, limit int) ([]model.Receipt, error) {
	return t.storage.getReceiptsForSplitScanTx(ctx, t.tx, limit)
}

func (t *sqliteTransaction) UpdateReceiptSplitGroup(ctx context.Context, id int64, splitGroupID *int64, isSplit, potentialDuplicate bool) error {
	return t.storage.updateReceiptSplitGroupTx(ctx, t.tx, id, splitGroupID, isSplit, potentialDuplicate)
}

func (t *sqliteTransaction) UpdateReceiptBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error {
	return t.storage.updateReceiptBankLinkTx(ctx, t.tx, id, bankingTransactionID)
}

func (t *sqliteTransaction) DeleteReceipt(ctx context.Context, id int64) error {
	return t.storage.deleteReceiptTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) FindDuplicateReceiptCandidates(ctx context.Context) ([][]model.Receipt, error) {
	return t.storage.findDuplicateReceiptCandidatesTx(ctx, t.tx)
}

func (t *sqliteTransaction) InsertPayment(ctx context.Context, p *model.Payment) (int64, error) {
	return t.storage.insertPaymentTx(ctx, t.tx, p)
}

func (t *sqliteTransaction) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	return t.storage.getPaymentByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetUnlinkedPayments(ctx context.Context, f service.CandidateFilter) ([]model.Payment, error) {
	return t.storage.getUnlinkedPaymentsTx(ctx, t.tx, f)
}

func (t *sqliteTransaction) UpdatePaymentBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error {
	return t.storage.updatePaymentBankLinkTx(ctx, t.tx, id, bankingTransactionID)
}

func (t *sqliteTransaction) SumPaymentsByReserve(ctx context.Context, reserveNumber string) (decimal.Decimal, error) {
	return t.storage.sumPaymentsByReserveTx(ctx, t.tx, reserveNumber)
}

func (t *sqliteTransaction) GetOrphanedPayments(ctx context.Context) ([]model.Payment, error) {
	return t.storage.getOrphanedPaymentsTx(ctx, t.tx)
}

func (t *sqliteTransaction) InsertCharter(ctx context.Context, c *model.Charter) (int64, error) {
	return t.storage.insertCharterTx(ctx, t.tx, c)
}

func (t *sqliteTransaction) GetCharterByReserve(ctx context.Context, reserveNumber string) (*model.Charter, error) {
	return t.storage.getCharterByReserveTx(ctx, t.tx, reserveNumber)
}

func (t *sqliteTransaction) ListReserveNumbers(ctx context.Context, afterID int64, limit int) ([]string, int64, error) {
	return t.storage.listReserveNumbersTx(ctx, t.tx, afterID, limit)
}

func (t *sqliteTransaction) UpdateCharterBalances(ctx context.Context, reserveNumber string, paid, balance decimal.Decimal, needsReview bool) error {
	return t.storage.updateCharterBalancesTx(ctx, t.tx, reserveNumber, paid, balance, needsReview)
}

func (t *sqliteTransaction) CancelCharter(ctx context.Context, reserveNumber string) error {
	return t.storage.cancelCharterTx(ctx, t.tx, reserveNumber)
}

func (t *sqliteTransaction) GetChartersNeedingReview(ctx context.Context) ([]model.Charter, error) {
	return t.storage.getChartersNeedingReviewTx(ctx, t.tx)
}

func (t *sqliteTransaction) InsertMatchRecord(ctx context.Context, m *model.MatchRecord) error {
	return t.storage.insertMatchRecordTx(ctx, t.tx, m)
}

func (t *sqliteTransaction) GetActiveMatchForEntity(ctx context.Context, entityType model.EntityType, entityID int64) (*model.MatchRecord, error) {
	return t.storage.getActiveMatchForEntityTx(ctx, t.tx, entityType, entityID)
}

func (t *sqliteTransaction) GetMatchRecordsForTransaction(ctx context.Context, bankingTransactionID int64) ([]model.MatchRecord, error) {
	return t.storage.getMatchRecordsForTransactionTx(ctx, t.tx, bankingTransactionID)
}

func (t *sqliteTransaction) SupersedeMatchRecord(ctx context.Context, matchID, note string) error {
	return t.storage.supersedeMatchRecordTx(ctx, t.tx, matchID, note)
}

func (t *sqliteTransaction) AppendAuditRecord(ctx context.Context, rec *service.AuditRecord) error {
	return t.storage.appendAuditRecordTx(ctx, t.tx, rec)
}

func (t *sqliteTransaction) GetAuditRecords(ctx context.Context, entityTable string, entityID int64) ([]service.AuditRecord, error) {
	return t.storage.getAuditRecordsTx(ctx, t.tx, entityTable, entityID)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// nullTime converts a zero time into a SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// nullDecimal converts a nil decimal pointer into a SQL NULL, otherwise a
// fixed two-place string so stored amounts compare bytewise.
func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.StringFixed(2)
}

// nullInt64 converts a nil id pointer into a SQL NULL.
func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
