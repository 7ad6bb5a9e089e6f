// Package engine implements the matcher: it pairs unreconciled bank
// transactions with internally generated receipts and payments.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/model"
)

// Config tunes candidate selection and auto-attachment.
type Config struct {
	// WindowDays holds the per-channel match window. Settlement delay
	// differs by channel, so card and cheque tolerate more date drift than
	// an e-transfer.
	WindowDays map[model.PaymentMethod]int
	// DefaultWindowDays applies when a candidate's channel is unknown,
	// including all receipt matching.
	DefaultWindowDays int
	// Epsilon is the amount tolerance for a candidate pair.
	Epsilon decimal.Decimal
	// ConfidenceFloor is the minimum score for automatic attachment; below
	// it the transaction stays unreconciled for human review.
	ConfidenceFloor float64
	// CreatedBy is recorded on every auto-generated match record.
	CreatedBy string
}

// DefaultConfig returns the stock matcher tuning.
func DefaultConfig() Config {
	return Config{
		WindowDays: map[model.PaymentMethod]int{
			model.MethodCard:      3,
			model.MethodETransfer: 1,
			model.MethodCheque:    10,
		},
		DefaultWindowDays: 2,
		Epsilon:           decimal.New(1, -2), // one cent
		ConfidenceFloor:   0.6,
		CreatedBy:         "tally-matcher",
	}
}

// windowFor returns the match window in days for a payment channel.
func (c Config) windowFor(method model.PaymentMethod) int {
	if days, ok := c.WindowDays[method]; ok {
		return days
	}
	return c.DefaultWindowDays
}

// maxWindow returns the widest configured window, used to bound the
// candidate query before per-channel filtering.
func (c Config) maxWindow() int {
	days := c.DefaultWindowDays
	for _, w := range c.WindowDays {
		if w > days {
			days = w
		}
	}
	return days
}
