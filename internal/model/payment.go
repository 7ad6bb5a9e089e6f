package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the payment channel. Match windows differ by
// channel because settlement delay does: card settlements lag a few days,
// e-transfers land next day, cheques can take weeks to clear.
type PaymentMethod string

// Known payment channels.
const (
	MethodCard      PaymentMethod = "card"
	MethodETransfer PaymentMethod = "etransfer"
	MethodCheque    PaymentMethod = "cheque"
	MethodCash      PaymentMethod = "cash"
)

// Payment is money received against a charter. Payments reference charters by
// reserve number, the business key, never by surrogate id. A charter's
// financial state is always the aggregate of its payments.
type Payment struct {
	Date                 time.Time
	CreatedAt            time.Time
	ReserveNumber        string
	Method               PaymentMethod
	Amount               decimal.Decimal
	BankingTransactionID *int64
	ID                   int64
}
