package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harborline/tally/internal/service"
)

// RunInTx executes fn inside one store transaction and commits only when
// write is true; a dry run executes the identical code path and rolls back.
// Every batch tool shares this wrapper so a failure mid-operation leaves no
// partial match record or half-updated balance.
func RunInTx(ctx context.Context, s service.Storage, write bool, fn func(tx service.Transaction) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if !write {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("failed to roll back dry run: %w", err)
		}
		slog.Debug("dry run complete, transaction rolled back")
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
