package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial ledger schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_number TEXT NOT NULL,
					txn_date DATETIME NOT NULL,
					posted_date DATETIME,
					description TEXT NOT NULL,
					debit TEXT,
					credit TEXT,
					running_balance TEXT,
					source_file TEXT,
					hash TEXT UNIQUE NOT NULL,
					status TEXT NOT NULL DEFAULT 'unreconciled',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK ((debit IS NULL) != (credit IS NULL))
				)`,
				`CREATE INDEX idx_bank_transactions_date ON bank_transactions(txn_date)`,
				`CREATE INDEX idx_bank_transactions_status ON bank_transactions(status)`,

				`CREATE TABLE IF NOT EXISTS receipts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					receipt_date DATETIME NOT NULL,
					vendor TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					gross_amount TEXT NOT NULL,
					gst_amount TEXT,
					banking_transaction_id INTEGER REFERENCES bank_transactions(id),
					split_group_id INTEGER,
					is_split_receipt BOOLEAN NOT NULL DEFAULT 0,
					potential_duplicate BOOLEAN NOT NULL DEFAULT 0,
					verified_by_edit BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_receipts_date ON receipts(receipt_date)`,
				`CREATE INDEX idx_receipts_vendor ON receipts(vendor)`,
				`CREATE INDEX idx_receipts_split_group ON receipts(split_group_id)`,

				`CREATE TABLE IF NOT EXISTS payments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					reserve_number TEXT NOT NULL,
					amount TEXT NOT NULL,
					payment_date DATETIME NOT NULL,
					method TEXT NOT NULL DEFAULT 'card',
					banking_transaction_id INTEGER REFERENCES bank_transactions(id),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_payments_reserve ON payments(reserve_number)`,
				`CREATE INDEX idx_payments_date ON payments(payment_date)`,

				`CREATE TABLE IF NOT EXISTS charters (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					reserve_number TEXT UNIQUE NOT NULL,
					total_amount_due TEXT,
					paid_amount TEXT NOT NULL DEFAULT '0.00',
					balance TEXT NOT NULL DEFAULT '0.00',
					cancelled BOOLEAN NOT NULL DEFAULT 0,
					needs_review BOOLEAN NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS match_records (
					id TEXT PRIMARY KEY,
					banking_transaction_id INTEGER NOT NULL REFERENCES bank_transactions(id),
					entity_type TEXT NOT NULL CHECK (entity_type IN ('receipt', 'payment')),
					entity_id INTEGER NOT NULL,
					match_date DATETIME NOT NULL,
					match_type TEXT NOT NULL,
					match_status TEXT NOT NULL DEFAULT 'active',
					confidence REAL NOT NULL DEFAULT 0,
					notes TEXT,
					created_by TEXT
				)`,
				`CREATE INDEX idx_match_records_txn ON match_records(banking_transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add audit log for destructive corrections",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					occurred_at DATETIME NOT NULL,
					actor TEXT NOT NULL,
					action TEXT NOT NULL,
					entity_table TEXT NOT NULL,
					entity_id INTEGER NOT NULL,
					prior_state TEXT,
					note TEXT
				)`,
				`CREATE INDEX idx_audit_log_entity ON audit_log(entity_table, entity_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Enforce single active match per entity, add flag reason",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// One receipt or payment can carry at most one live link.
				`CREATE UNIQUE INDEX idx_match_records_active_entity
					ON match_records(entity_type, entity_id)
					WHERE match_status = 'active'`,
				`ALTER TABLE bank_transactions ADD COLUMN flag_reason TEXT NOT NULL DEFAULT ''`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Add backup metadata table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS backup_metadata (
					id TEXT PRIMARY KEY,
					created_at DATETIME NOT NULL,
					description TEXT,
					file_size INTEGER,
					row_counts TEXT,
					schema_version INTEGER
				)`,
				`CREATE INDEX idx_backup_metadata_created_at ON backup_metadata(created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
