package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/config"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/tally/tally.db"
	}

	dbPath = config.ExpandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("failed to open database at %s", dbPath), err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// sqliteStore unwraps the concrete store for backup operations.
func sqliteStore(s service.Storage) (*storage.SQLiteStorage, error) {
	sq, ok := s.(*storage.SQLiteStorage)
	if !ok {
		return nil, fmt.Errorf("storage is not SQLite")
	}
	return sq, nil
}

// addBatchFlags registers the shared batch flags. Dry run is the default;
// --write is the explicit opt-in to commit.
func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", true, "preview changes without committing")
	cmd.Flags().Bool("write", false, "commit changes")
	cmd.Flags().Int("limit", 0, "bound batch size (0 = unlimited)")
}

// batchMode resolves the shared flags into (write, limit).
func batchMode(cmd *cobra.Command) (bool, int, error) {
	write, _ := cmd.Flags().GetBool("write")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return false, 0, fmt.Errorf("--limit must not be negative")
	}
	if write && cmd.Flags().Changed("dry-run") && dryRun {
		return false, 0, fmt.Errorf("--write and --dry-run are mutually exclusive")
	}
	return write, limit, nil
}

// currentActor returns the operator name recorded in the audit trail.
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
