package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapses whitespace", "INTERAC  E-TRANSFER\t ", "INTERAC E-TRANSFER"},
		{"uppercases", "Visa Debit purchase", "VISA DEBIT PURCHASE"},
		{"empty", "", ""},
		{"internal newline", "CHEQUE\n00042", "CHEQUE 00042"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDescription(tt.input); got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	amount := decimal.NewFromFloat(150.00)

	h1 := Fingerprint(date, "VISA  Debit purchase", &amount, nil)
	h2 := Fingerprint(date, "visa debit Purchase", &amount, nil)
	if h1 != h2 {
		t.Error("fingerprint should be stable across case and whitespace variation")
	}

	// Same magnitude on the other side of the ledger is a different row.
	h3 := Fingerprint(date, "VISA Debit purchase", nil, &amount)
	if h1 == h3 {
		t.Error("debit and credit of the same amount must not collide")
	}

	other := decimal.NewFromFloat(150.01)
	h4 := Fingerprint(date, "VISA Debit purchase", &other, nil)
	if h1 == h4 {
		t.Error("different amounts must not collide")
	}
}

func TestSignedAmount(t *testing.T) {
	debit := decimal.NewFromFloat(42.50)
	txn := BankTransaction{Debit: &debit}
	if !txn.SignedAmount().Equal(decimal.NewFromFloat(-42.50)) {
		t.Errorf("debit signed amount = %s, want -42.50", txn.SignedAmount())
	}
	if !txn.UnsignedAmount().Equal(debit) {
		t.Errorf("debit unsigned amount = %s, want 42.50", txn.UnsignedAmount())
	}

	credit := decimal.NewFromFloat(100)
	txn = BankTransaction{Credit: &credit}
	if !txn.SignedAmount().Equal(credit) {
		t.Errorf("credit signed amount = %s, want 100", txn.SignedAmount())
	}
}
