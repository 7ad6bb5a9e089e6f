package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Charter is a sold service. TotalAmountDue is set once at sale time.
// PaidAmount and Balance are derived caches: they must always equal the sum
// of linked payments and total due minus that sum. The balance recalculator
// is their only writer.
type Charter struct {
	CreatedAt      time.Time
	ReserveNumber  string
	TotalAmountDue *decimal.Decimal
	PaidAmount     decimal.Decimal
	Balance        decimal.Decimal
	ID             int64
	Cancelled      bool
	NeedsReview    bool
}

// EffectiveTotalDue returns the total amount due with a NULL total treated as
// zero. Callers that hit the nil case must flag the charter for review;
// financial totals are never left undefined.
func (c *Charter) EffectiveTotalDue() decimal.Decimal {
	if c.TotalAmountDue == nil {
		return decimal.Zero
	}
	return *c.TotalAmountDue
}
