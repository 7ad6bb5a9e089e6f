package storage

import (
	"context"
	"fmt"

	"github.com/harborline/tally/internal/model"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context must not be nil")
	}
	return ctx.Err()
}

func validateString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	return nil
}

func validateBankTransaction(txn *model.BankTransaction) error {
	if txn == nil {
		return fmt.Errorf("bank transaction must not be nil")
	}
	if txn.Hash == "" {
		return fmt.Errorf("bank transaction hash must not be empty")
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("bank transaction date must not be zero")
	}
	if (txn.Debit == nil) == (txn.Credit == nil) {
		return fmt.Errorf("bank transaction must carry exactly one of debit and credit")
	}
	return nil
}

func validateReceipt(r *model.Receipt) error {
	if r == nil {
		return fmt.Errorf("receipt must not be nil")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("receipt date must not be zero")
	}
	if r.GrossAmount.IsNegative() {
		return fmt.Errorf("receipt gross amount must not be negative")
	}
	return nil
}

func validatePayment(p *model.Payment) error {
	if p == nil {
		return fmt.Errorf("payment must not be nil")
	}
	if p.ReserveNumber == "" {
		return fmt.Errorf("payment reserve number must not be empty")
	}
	if p.Date.IsZero() {
		return fmt.Errorf("payment date must not be zero")
	}
	return nil
}

func validateMatchRecord(m *model.MatchRecord) error {
	if m == nil {
		return fmt.Errorf("match record must not be nil")
	}
	if m.ID == "" {
		return fmt.Errorf("match record id must not be empty")
	}
	if m.BankingTransactionID == 0 {
		return fmt.Errorf("match record must reference a bank transaction")
	}
	if m.EntityType != model.EntityReceipt && m.EntityType != model.EntityPayment {
		return fmt.Errorf("unknown match entity type %q", m.EntityType)
	}
	if m.EntityID == 0 {
		return fmt.Errorf("match record must reference an entity")
	}
	return nil
}
