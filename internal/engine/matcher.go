package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

// Candidate is one possible counterpart for a bank transaction, with its
// score and the inputs that produced it.
type Candidate struct {
	EntityType model.EntityType
	EntityID   int64
	Date       time.Time
	Confidence float64
	DayDist    int
}

// Matcher pairs unreconciled bank transactions with receipts and payments.
type Matcher struct {
	storage service.Storage
	cfg     Config
}

// Options configures one matcher run.
type Options struct {
	Write bool
	Limit int
}

// New creates a matcher backed by the given store.
func New(s service.Storage, cfg Config) *Matcher {
	return &Matcher{storage: s, cfg: cfg}
}

// Run examines unreconciled bank transactions and attaches a match record
// wherever exactly one candidate clears the confidence floor. Ambiguous or
// low-confidence transactions are left unreconciled for the reporter.
// Rerunning against a fully matched store attaches nothing.
func (m *Matcher) Run(ctx context.Context, opts Options) (*service.MatchSummary, error) {
	txns, err := m.storage.GetBankTransactionsByStatus(ctx, model.StatusUnreconciled, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load unreconciled transactions: %w", err)
	}

	summary := &service.MatchSummary{}

	// Entities attached earlier in this run. During a dry run the store
	// never sees the attachment, so this is what prevents double-booking
	// within one pass.
	used := make(map[string]bool)

	for _, txn := range txns {
		summary.Examined++

		candidates, findErr := m.FindCandidates(ctx, &txn)
		if findErr != nil {
			return nil, findErr
		}

		var viable []Candidate
		for _, c := range candidates {
			if !used[entityKey(c.EntityType, c.EntityID)] {
				viable = append(viable, c)
			}
		}

		choice, pickErr := Pick(viable, m.cfg.ConfidenceFloor)
		switch {
		case errors.Is(pickErr, common.ErrAmbiguousMatch):
			summary.Ambiguous++
			slog.Info("ambiguous match left for review",
				"transaction", txn.ID,
				"candidates", len(viable))
		case pickErr != nil:
			summary.NoMatch++
			slog.Debug("no candidate cleared the confidence floor",
				"transaction", txn.ID,
				"candidates", len(viable))
		default:
			if attachErr := m.attach(ctx, &txn, choice, opts.Write); attachErr != nil {
				if errors.Is(attachErr, common.ErrAlreadyLinked) {
					// Raced with an earlier link; report, don't overwrite.
					slog.Warn("candidate already linked", "transaction", txn.ID)
					summary.NoMatch++
					continue
				}
				return nil, attachErr
			}
			used[entityKey(choice.EntityType, choice.EntityID)] = true
			summary.Matched++
		}
	}

	slog.Info("matcher run complete",
		"examined", summary.Examined,
		"matched", summary.Matched,
		"ambiguous", summary.Ambiguous,
		"no_match", summary.NoMatch,
		"write", opts.Write)

	return summary, nil
}

// Pick selects the single attachable candidate from a ranked list. It fails
// with common.ErrAmbiguousMatch when the top candidates tie on confidence,
// since equal-ranked candidates are never guessed between, and with
// common.ErrNotFound when nothing clears the floor.
func Pick(candidates []Candidate, floor float64) (Candidate, error) {
	if len(candidates) == 0 || candidates[0].Confidence < floor {
		return Candidate{}, common.ErrNotFound
	}
	if len(candidates) > 1 && candidates[0].Confidence == candidates[1].Confidence {
		tied := 0
		for _, c := range candidates {
			if c.Confidence == candidates[0].Confidence {
				tied++
			}
		}
		return Candidate{}, fmt.Errorf("%w: %d candidates at confidence %.2f",
			common.ErrAmbiguousMatch, tied, candidates[0].Confidence)
	}
	return candidates[0], nil
}

// FindCandidates returns the ranked candidate list for one bank transaction.
// Debits (money out) are matched against receipts, credits (money in)
// against charter payments. The ordering is fully deterministic: confidence
// descending, then date distance, then lowest id.
func (m *Matcher) FindCandidates(ctx context.Context, txn *model.BankTransaction) ([]Candidate, error) {
	window := m.cfg.maxWindow()
	filter := service.CandidateFilter{
		Start:   txn.Date.AddDate(0, 0, -window),
		End:     txn.Date.AddDate(0, 0, window),
		Amount:  txn.UnsignedAmount(),
		Epsilon: m.cfg.Epsilon,
	}

	var candidates []Candidate

	if txn.Debit != nil {
		receipts, err := m.storage.GetUnlinkedReceipts(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query receipt candidates: %w", err)
		}
		for _, r := range receipts {
			c, ok := m.score(txn, r.Date, r.GrossAmount.Sub(txn.UnsignedAmount()).Abs(), m.cfg.DefaultWindowDays)
			if !ok {
				continue
			}
			c.EntityType = model.EntityReceipt
			c.EntityID = r.ID
			c.Date = r.Date
			candidates = append(candidates, c)
		}
	} else {
		payments, err := m.storage.GetUnlinkedPayments(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to query payment candidates: %w", err)
		}
		for _, p := range payments {
			c, ok := m.score(txn, p.Date, p.Amount.Sub(txn.UnsignedAmount()).Abs(), m.cfg.windowFor(p.Method))
			if !ok {
				continue
			}
			c.EntityType = model.EntityPayment
			c.EntityID = p.ID
			c.Date = p.Date
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if candidates[i].DayDist != candidates[j].DayDist {
			return candidates[i].DayDist < candidates[j].DayDist
		}
		return candidates[i].EntityID < candidates[j].EntityID
	})

	return candidates, nil
}

// score ranks one candidate pair: exact date and exact amount beats a
// same-day tolerance match, which beats a nearest-date match decaying with
// distance. Candidates outside their channel window are dropped.
func (m *Matcher) score(txn *model.BankTransaction, date time.Time, amountDiff decimal.Decimal, windowDays int) (Candidate, bool) {
	dayDist := dayDistance(txn.Date, date)
	if dayDist > windowDays {
		return Candidate{}, false
	}

	exactAmount := amountDiff.IsZero()
	var confidence float64
	switch {
	case dayDist == 0 && exactAmount:
		confidence = 1.0
	case dayDist == 0:
		confidence = 0.9
	default:
		confidence = 0.8 - 0.05*float64(dayDist)
	}

	return Candidate{Confidence: confidence, DayDist: dayDist}, true
}

// attach writes the match record, bank link, and status flip in a single
// store transaction.
func (m *Matcher) attach(ctx context.Context, txn *model.BankTransaction, c Candidate, write bool) error {
	return storage.RunInTx(ctx, m.storage, write, func(tx service.Transaction) error {
		// Never overwrite an existing link.
		if _, err := tx.GetActiveMatchForEntity(ctx, c.EntityType, c.EntityID); err == nil {
			return common.ErrAlreadyLinked
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		record := &model.MatchRecord{
			ID:                   uuid.New().String(),
			BankingTransactionID: txn.ID,
			EntityType:           c.EntityType,
			EntityID:             c.EntityID,
			MatchDate:            time.Now().UTC(),
			MatchType:            model.MatchAutoGenerated,
			MatchStatus:          model.MatchActive,
			Confidence:           c.Confidence,
			Notes:                fmt.Sprintf("auto match at %d day(s) distance", c.DayDist),
			CreatedBy:            m.cfg.CreatedBy,
		}
		if err := tx.InsertMatchRecord(ctx, record); err != nil {
			return err
		}

		switch c.EntityType {
		case model.EntityReceipt:
			if err := tx.UpdateReceiptBankLink(ctx, c.EntityID, &txn.ID); err != nil {
				return err
			}
		case model.EntityPayment:
			if err := tx.UpdatePaymentBankLink(ctx, c.EntityID, &txn.ID); err != nil {
				return err
			}
		}

		return tx.UpdateBankTransactionStatus(ctx, txn.ID, model.StatusMatched, "")
	})
}

func entityKey(t model.EntityType, id int64) string {
	return fmt.Sprintf("%s:%d", t, id)
}

func dayDistance(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ad.Sub(bd).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
