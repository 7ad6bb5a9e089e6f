package model

import (
	"time"
)

// MatchType records how a match was made.
type MatchType string

// Match types.
const (
	MatchExact         MatchType = "exact"
	MatchFuzzy         MatchType = "fuzzy"
	MatchManual        MatchType = "manual"
	MatchAutoGenerated MatchType = "auto_generated"
)

// MatchStatus tracks whether a match record is the live link or a superseded
// one kept for audit.
type MatchStatus string

// Match statuses. Records are superseded by corrections, never deleted.
const (
	MatchActive     MatchStatus = "active"
	MatchSuperseded MatchStatus = "superseded"
)

// EntityType identifies which internal entity a match record links to.
type EntityType string

// Linkable entity types.
const (
	EntityReceipt EntityType = "receipt"
	EntityPayment EntityType = "payment"
)

// MatchRecord is the audit entry linking one bank transaction to one receipt
// or payment. A bank transaction may carry several active records only when
// it is a bulk deposit covering several invoices; a receipt or payment has at
// most one active record.
type MatchRecord struct {
	MatchDate            time.Time
	ID                   string
	EntityType           EntityType
	MatchType            MatchType
	MatchStatus          MatchStatus
	Notes                string
	CreatedBy            string
	Confidence           float64
	BankingTransactionID int64
	EntityID             int64
}
