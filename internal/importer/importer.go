// Package importer ingests bank statement rows idempotently. It is the only
// writer of bank transactions; no matching happens here.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

// Importer validates and inserts bank statement rows.
type Importer struct {
	storage service.Storage
}

// Options configures one import batch.
type Options struct {
	// Write commits the batch; the default dry run rolls everything back.
	Write bool
	// Limit bounds how many rows are processed; zero means no bound.
	Limit int
	// Actor is recorded in the audit trail.
	Actor string
}

// New creates an importer backed by the given store.
func New(s service.Storage) *Importer {
	return &Importer{storage: s}
}

// ImportRows ingests a batch of statement rows. Each row is fingerprinted;
// rows whose hash already exists are skipped softly, malformed rows are
// rejected and reported without aborting the batch, and valid rows are
// inserted unreconciled. The whole batch runs in one store transaction so a
// failure leaves nothing partial.
func (i *Importer) ImportRows(ctx context.Context, rows []model.ImportRow, opts Options) (*service.ImportSummary, error) {
	summary := &service.ImportSummary{
		BatchID: uuid.New().String(),
	}

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	err := storage.RunInTx(ctx, i.storage, opts.Write, func(tx service.Transaction) error {
		for idx, row := range rows {
			// Rows read from a file carry their original line; rows built
			// in memory fall back to their batch position.
			line := row.Line
			if line == 0 {
				line = idx + 1
			}

			txn, convErr := row.ToBankTransaction()
			if convErr != nil {
				summary.Rejected = append(summary.Rejected, service.RowError{
					Line: line,
					Err:  convErr,
				})
				slog.Warn("rejected import row",
					"line", line,
					"source_file", row.SourceFile,
					"error", convErr)
				continue
			}

			id, insErr := tx.InsertBankTransaction(ctx, txn)
			if errors.Is(insErr, common.ErrDuplicateEntry) {
				// Expected on rerun of the same statement file.
				summary.Skipped++
				continue
			}
			if insErr != nil {
				return fmt.Errorf("failed to import row %d: %w", line, insErr)
			}

			summary.Imported++
			if audErr := tx.AppendAuditRecord(ctx, &service.AuditRecord{
				OccurredAt:  time.Now().UTC(),
				Actor:       opts.Actor,
				Action:      "import",
				EntityTable: "bank_transactions",
				EntityID:    id,
				Note:        fmt.Sprintf("batch %s from %s", summary.BatchID, row.SourceFile),
			}); audErr != nil {
				return fmt.Errorf("failed to record import audit: %w", audErr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("import batch complete",
		"batch_id", summary.BatchID,
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"rejected", len(summary.Rejected),
		"write", opts.Write)

	return summary, nil
}
