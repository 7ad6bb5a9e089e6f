package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BackupManager handles whole-database snapshot operations. Destructive batch
// corrections take a snapshot before running.
type BackupManager struct {
	db         *sql.DB
	dbPath     string
	backupsDir string
}

// BackupMetadata contains metadata about a backup snapshot.
type BackupMetadata struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
}

// Common errors.
var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupCorrupted = errors.New("backup integrity check failed")
	ErrBackupExists    = errors.New("backup already exists")
)

// NewBackupManager creates a new backup manager.
func NewBackupManager(db *sql.DB, dbPath string) (*BackupManager, error) {
	backupsDir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(backupsDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backups directory: %w", err)
	}

	return &BackupManager{
		db:         db,
		dbPath:     dbPath,
		backupsDir: backupsDir,
	}, nil
}

// Create writes a new snapshot with the given tag and description.
func (bm *BackupManager) Create(ctx context.Context, tag, description string) (*BackupMetadata, error) {
	if tag == "" {
		tag = fmt.Sprintf("backup-%s", time.Now().Format("2006-01-02-1504"))
	}
	if err := validateTag(tag); err != nil {
		return nil, err
	}

	backupPath := filepath.Join(bm.backupsDir, tag+".db")
	if _, err := os.Stat(backupPath); err == nil {
		return nil, ErrBackupExists
	}

	var schemaVersion int
	if err := bm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&schemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	rowCounts := bm.collectRowCounts(ctx)

	if err := bm.backupDatabase(ctx, backupPath); err != nil {
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	metadata := BackupMetadata{
		ID:            tag,
		CreatedAt:     time.Now(),
		Description:   description,
		FileSize:      info.Size(),
		RowCounts:     rowCounts,
		SchemaVersion: schemaVersion,
	}

	metadataPath := filepath.Join(bm.backupsDir, tag+".meta.json")
	if err := bm.saveMetadata(metadataPath, metadata); err != nil {
		if rmErr := os.Remove(backupPath); rmErr != nil {
			slog.Error("failed to remove backup file after metadata save failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}

	if err := bm.storeMetadataInDB(ctx, metadata); err != nil {
		// Non-fatal: the snapshot is valid even if DB metadata fails.
		slog.Warn("failed to store backup metadata in database", "error", err)
	}

	return &metadata, nil
}

// List returns all snapshots, newest first.
func (bm *BackupManager) List(_ context.Context) ([]BackupMetadata, error) {
	entries, err := os.ReadDir(bm.backupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	backups := make([]BackupMetadata, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		metadata, loadErr := bm.loadMetadata(filepath.Join(bm.backupsDir, entry.Name()))
		if loadErr != nil {
			// Skip corrupted metadata files
			continue
		}
		backups = append(backups, *metadata)
	}

	for i := 0; i < len(backups)-1; i++ {
		for j := i + 1; j < len(backups); j++ {
			if backups[i].CreatedAt.Before(backups[j].CreatedAt) {
				backups[i], backups[j] = backups[j], backups[i]
			}
		}
	}

	return backups, nil
}

// Restore replaces the live database with a snapshot. The current database is
// kept beside it until the copy succeeds.
func (bm *BackupManager) Restore(_ context.Context, backupID string) error {
	if err := validateTag(backupID); err != nil {
		return err
	}

	backupPath := filepath.Join(bm.backupsDir, backupID+".db")
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("failed to access backup: %w", err)
	}

	if err := bm.verifyIntegrity(backupPath); err != nil {
		return ErrBackupCorrupted
	}

	if err := bm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	holdPath := bm.dbPath + ".restore-backup"
	if err := copyFile(bm.dbPath, holdPath); err != nil {
		return fmt.Errorf("failed to preserve current database: %w", err)
	}

	if err := copyFile(backupPath, bm.dbPath); err != nil {
		if restoreErr := copyFile(holdPath, bm.dbPath); restoreErr != nil {
			slog.Error("failed to restore preserved database after failure", "error", restoreErr)
		}
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	if err := os.Remove(holdPath); err != nil {
		slog.Error("failed to remove preserved database", "error", err)
	}

	return nil
}

func validateTag(tag string) error {
	if strings.Contains(tag, "/") || strings.Contains(tag, "\\") || strings.Contains(tag, "..") {
		return errors.New("invalid backup tag: cannot contain path separators")
	}
	return nil
}

func (bm *BackupManager) collectRowCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)

	// Explicit queries per table to avoid SQL injection.
	tableQueries := map[string]string{
		"bank_transactions": "SELECT COUNT(*) FROM bank_transactions",
		"receipts":          "SELECT COUNT(*) FROM receipts",
		"payments":          "SELECT COUNT(*) FROM payments",
		"charters":          "SELECT COUNT(*) FROM charters",
		"match_records":     "SELECT COUNT(*) FROM match_records",
		"audit_log":         "SELECT COUNT(*) FROM audit_log",
	}

	for table, query := range tableQueries {
		var count int
		if err := bm.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			counts[table] = 0
			continue
		}
		counts[table] = count
	}

	return counts
}

func (bm *BackupManager) backupDatabase(ctx context.Context, destPath string) error {
	// Flush the WAL first so the snapshot is complete.
	if _, err := bm.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	if strings.ContainsAny(destPath, `'";`) || strings.Contains(destPath, "..") {
		return fmt.Errorf("invalid destination path")
	}

	// VACUUM INTO gives an atomic, consistent copy (SQLite 3.27.0+).
	query := fmt.Sprintf("VACUUM INTO '%s'", destPath)
	if _, err := bm.db.ExecContext(ctx, query); err != nil {
		return copyFile(bm.dbPath, destPath)
	}

	return nil
}

func copyFile(src, dst string) error {
	if strings.Contains(src, "..") || strings.Contains(dst, "..") {
		return fmt.Errorf("invalid file paths")
	}

	tmpDst := dst + ".tmp"

	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			slog.Error("failed to close source file", "error", closeErr)
		}
	}()

	destination, err := os.Create(tmpDst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		_ = destination.Close()
		_ = os.Remove(tmpDst)
		return err
	}

	if err := destination.Close(); err != nil {
		_ = os.Remove(tmpDst)
		return err
	}

	return os.Rename(tmpDst, dst)
}

func (bm *BackupManager) saveMetadata(path string, metadata BackupMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

func (bm *BackupManager) loadMetadata(path string) (*BackupMetadata, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var metadata BackupMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}

	return &metadata, nil
}

func (bm *BackupManager) verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

func (bm *BackupManager) storeMetadataInDB(ctx context.Context, metadata BackupMetadata) error {
	rowCountsJSON, err := json.Marshal(metadata.RowCounts)
	if err != nil {
		return err
	}

	_, err = bm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backup_metadata
		(id, created_at, description, file_size, row_counts, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		metadata.ID,
		metadata.CreatedAt,
		metadata.Description,
		metadata.FileSize,
		string(rowCountsJSON),
		metadata.SchemaVersion,
	)

	return err
}
