package model

import (
	"testing"
)

func TestImportRowToBankTransaction(t *testing.T) {
	valid := ImportRow{
		AccountNumber:   "1001-222",
		TransactionDate: "2026-01-15",
		Description:     "FUEL PURCHASE",
		DebitAmount:     "150.00",
		RunningBalance:  "1234.56",
		SourceFile:      "jan.csv",
	}

	txn, err := valid.ToBankTransaction()
	if err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}
	if txn.Status != StatusUnreconciled {
		t.Errorf("status = %s, want unreconciled", txn.Status)
	}
	if txn.Hash == "" {
		t.Error("hash not populated")
	}
	if txn.Debit == nil || !txn.Debit.Equal(txn.UnsignedAmount()) {
		t.Error("debit not carried through")
	}
	if txn.PostedDate != txn.Date {
		t.Error("posted date should default to transaction date")
	}

	tests := []struct {
		name   string
		mutate func(*ImportRow)
	}{
		{"bad date", func(r *ImportRow) { r.TransactionDate = "15/01/2026" }},
		{"bad posted date", func(r *ImportRow) { r.PostedDate = "soon" }},
		{"both sides set", func(r *ImportRow) { r.CreditAmount = "10.00" }},
		{"neither side set", func(r *ImportRow) { r.DebitAmount = "" }},
		{"unparseable amount", func(r *ImportRow) { r.DebitAmount = "one fifty" }},
		{"negative amount", func(r *ImportRow) { r.DebitAmount = "-150.00" }},
		{"bad running balance", func(r *ImportRow) { r.RunningBalance = "n/a" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := valid
			tt.mutate(&row)
			if _, err := row.ToBankTransaction(); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}
