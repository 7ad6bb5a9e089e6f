// Package model defines the core ledger entities shared across the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationStatus tracks where a bank transaction sits in its lifecycle.
type ReconciliationStatus string

// Reconciliation statuses. A transaction moves unreconciled -> matched, and
// may be overlaid with flagged when the reporter finds an inconsistency.
// Flagged is diagnostic, not terminal: clearing the inconsistency restores
// matched.
const (
	StatusUnreconciled ReconciliationStatus = "unreconciled"
	StatusMatched      ReconciliationStatus = "matched"
	StatusFlagged      ReconciliationStatus = "flagged"
)

// BankTransaction is an immutable record of one real-world bank line.
// Exactly one of Debit or Credit is set. Created only by import; removal
// requires an audit snapshot first.
type BankTransaction struct {
	Date           time.Time
	PostedDate     time.Time
	CreatedAt      time.Time
	AccountNumber  string
	Description    string
	SourceFile     string
	Hash           string
	Status         ReconciliationStatus
	FlagReason     string
	Debit          *decimal.Decimal
	Credit         *decimal.Decimal
	RunningBalance *decimal.Decimal
	ID             int64
}

// SignedAmount returns the transaction amount with bank sign convention:
// credits positive, debits negative.
func (t *BankTransaction) SignedAmount() decimal.Decimal {
	if t.Credit != nil {
		return *t.Credit
	}
	if t.Debit != nil {
		return t.Debit.Neg()
	}
	return decimal.Zero
}

// UnsignedAmount returns the absolute transaction amount.
func (t *BankTransaction) UnsignedAmount() decimal.Decimal {
	return t.SignedAmount().Abs()
}

// NormalizeDescription collapses the whitespace and case variations that
// differ between export runs of the same statement, so the fingerprint is
// stable across reruns.
func NormalizeDescription(desc string) string {
	return strings.ToUpper(strings.Join(strings.Fields(desc), " "))
}

// Fingerprint computes the idempotency hash for a bank line: a sha256 digest
// over the transaction date, normalized description, and signed amount.
// Repeated imports of the same row always produce the same hash.
func Fingerprint(date time.Time, description string, debit, credit *decimal.Decimal) string {
	signed := decimal.Zero
	if credit != nil {
		signed = *credit
	} else if debit != nil {
		signed = debit.Neg()
	}
	data := fmt.Sprintf("%s|%s|%s",
		date.Format("2006-01-02"),
		NormalizeDescription(description),
		signed.StringFixed(2))
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum)
}

// GenerateHash computes and assigns the transaction's fingerprint.
func (t *BankTransaction) GenerateHash() string {
	return Fingerprint(t.Date, t.Description, t.Debit, t.Credit)
}
