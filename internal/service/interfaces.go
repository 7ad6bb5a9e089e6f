// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/model"
)

// CandidateFilter bounds a matcher candidate query: entities inside the date
// window whose unsigned amount is within epsilon of the target and that do
// not already carry an active match record.
type CandidateFilter struct {
	Start   time.Time
	End     time.Time
	Amount  decimal.Decimal
	Epsilon decimal.Decimal
}

// Storage defines the contract for the ledger store. It is the single source
// of truth; every component reads and writes through it.
type Storage interface {
	// Bank transaction operations.
	InsertBankTransaction(ctx context.Context, txn *model.BankTransaction) (int64, error)
	GetBankTransactionByID(ctx context.Context, id int64) (*model.BankTransaction, error)
	GetBankTransactionByHash(ctx context.Context, hash string) (*model.BankTransaction, error)
	BankTransactionHashExists(ctx context.Context, hash string) (bool, error)
	GetBankTransactionsByStatus(ctx context.Context, status model.ReconciliationStatus, limit int) ([]model.BankTransaction, error)
	UpdateBankTransactionStatus(ctx context.Context, id int64, status model.ReconciliationStatus, flagReason string) error
	CountBankTransactionsByStatus(ctx context.Context) (map[model.ReconciliationStatus]int, error)

	// Receipt operations.
	InsertReceipt(ctx context.Context, r *model.Receipt) (int64, error)
	GetReceiptByID(ctx context.Context, id int64) (*model.Receipt, error)
	GetUnlinkedReceipts(ctx context.Context, f CandidateFilter) ([]model.Receipt, error)
	GetReceiptsForSplitScan(ctx context.Context, limit int) ([]model.Receipt, error)
	UpdateReceiptSplitGroup(ctx context.Context, id int64, splitGroupID *int64, isSplit, potentialDuplicate bool) error
	UpdateReceiptBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error
	DeleteReceipt(ctx context.Context, id int64) error
	FindDuplicateReceiptCandidates(ctx context.Context) ([][]model.Receipt, error)

	// Payment operations.
	InsertPayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	GetUnlinkedPayments(ctx context.Context, f CandidateFilter) ([]model.Payment, error)
	UpdatePaymentBankLink(ctx context.Context, id int64, bankingTransactionID *int64) error
	SumPaymentsByReserve(ctx context.Context, reserveNumber string) (decimal.Decimal, error)
	GetOrphanedPayments(ctx context.Context) ([]model.Payment, error)

	// Charter operations.
	InsertCharter(ctx context.Context, c *model.Charter) (int64, error)
	GetCharterByReserve(ctx context.Context, reserveNumber string) (*model.Charter, error)
	ListReserveNumbers(ctx context.Context, afterID int64, limit int) ([]string, int64, error)
	UpdateCharterBalances(ctx context.Context, reserveNumber string, paid, balance decimal.Decimal, needsReview bool) error
	CancelCharter(ctx context.Context, reserveNumber string) error
	GetChartersNeedingReview(ctx context.Context) ([]model.Charter, error)

	// Match record operations.
	InsertMatchRecord(ctx context.Context, m *model.MatchRecord) error
	GetActiveMatchForEntity(ctx context.Context, entityType model.EntityType, entityID int64) (*model.MatchRecord, error)
	GetMatchRecordsForTransaction(ctx context.Context, bankingTransactionID int64) ([]model.MatchRecord, error)
	SupersedeMatchRecord(ctx context.Context, matchID, note string) error

	// Audit trail.
	AppendAuditRecord(ctx context.Context, rec *AuditRecord) error
	GetAuditRecords(ctx context.Context, entityTable string, entityID int64) ([]AuditRecord, error)

	// Database management.
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction. Commit or Rollback exactly
// once; the dry-run wrapper in storage decides which.
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}

// AuditRecord is one immutable entry in the persisted audit trail. Every
// destructive correction writes one, with a JSON snapshot of prior state,
// before mutating anything.
type AuditRecord struct {
	OccurredAt  time.Time
	Actor       string
	Action      string
	EntityTable string
	PriorState  string
	Note        string
	EntityID    int64
	ID          int64
}

// ImportSummary shows the results of one import batch.
type ImportSummary struct {
	BatchID  string
	Imported int
	Skipped  int
	Rejected []RowError
}

// RowError describes one rejected input row.
type RowError struct {
	Err  error
	Line int
}

// MatchSummary shows the results of one matcher run.
type MatchSummary struct {
	Examined  int
	Matched   int
	Ambiguous int
	NoMatch   int
}

// SplitSummary shows the results of one split resolver run.
type SplitSummary struct {
	GroupsFormed     int
	MembersTagged    int
	Markerless       int
	SyntheticParents int
}

// RecalcSummary shows the results of a balance recalculation run.
type RecalcSummary struct {
	Charters    int
	Changed     int
	NeedsReview int
	Orphaned    int
}
