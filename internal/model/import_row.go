package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ImportRow is the external collaborator record for one bank statement line,
// as produced by the statement feed. AccountNumber and RunningBalance are
// trusted inputs and never re-derived.
type ImportRow struct {
	AccountNumber   string `json:"account_number"`
	TransactionDate string `json:"transaction_date"`
	PostedDate      string `json:"posted_date,omitempty"`
	Description     string `json:"description"`
	DebitAmount     string `json:"debit_amount,omitempty"`
	CreditAmount    string `json:"credit_amount,omitempty"`
	RunningBalance  string `json:"running_balance,omitempty"`
	SourceFile      string `json:"source_file"`

	// Line is the row's position in the source file, set by the reader.
	// Blank and undecodable lines still count, so rejection messages point
	// at the real file line.
	Line int `json:"-"`
}

// ToBankTransaction validates the row and converts it into an unreconciled
// BankTransaction with its hash populated. A malformed date or amount, or a
// row with both or neither of debit/credit, is rejected whole; nothing is
// partially converted.
func (r ImportRow) ToBankTransaction() (*BankTransaction, error) {
	date, err := time.Parse("2006-01-02", r.TransactionDate)
	if err != nil {
		return nil, fmt.Errorf("unparseable transaction_date %q: %w", r.TransactionDate, err)
	}

	posted := date
	if r.PostedDate != "" {
		posted, err = time.Parse("2006-01-02", r.PostedDate)
		if err != nil {
			return nil, fmt.Errorf("unparseable posted_date %q: %w", r.PostedDate, err)
		}
	}

	if (r.DebitAmount == "") == (r.CreditAmount == "") {
		return nil, fmt.Errorf("exactly one of debit_amount and credit_amount must be set")
	}

	var debit, credit *decimal.Decimal
	if r.DebitAmount != "" {
		d, parseErr := parseAmount(r.DebitAmount, "debit_amount")
		if parseErr != nil {
			return nil, parseErr
		}
		debit = &d
	} else {
		c, parseErr := parseAmount(r.CreditAmount, "credit_amount")
		if parseErr != nil {
			return nil, parseErr
		}
		credit = &c
	}

	var running *decimal.Decimal
	if r.RunningBalance != "" {
		b, parseErr := decimal.NewFromString(r.RunningBalance)
		if parseErr != nil {
			return nil, fmt.Errorf("unparseable running_balance %q: %w", r.RunningBalance, parseErr)
		}
		running = &b
	}

	txn := &BankTransaction{
		Date:           date,
		PostedDate:     posted,
		AccountNumber:  r.AccountNumber,
		Description:    r.Description,
		SourceFile:     r.SourceFile,
		Status:         StatusUnreconciled,
		Debit:          debit,
		Credit:         credit,
		RunningBalance: running,
	}
	txn.Hash = txn.GenerateHash()
	return txn, nil
}

func parseAmount(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable %s %q: %w", field, s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative, got %s", field, s)
	}
	return d, nil
}
