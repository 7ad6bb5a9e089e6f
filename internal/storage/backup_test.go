package storage

import (
	"context"
	"errors"
	"testing"
)

func TestBackupCreateAndList(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.InsertBankTransaction(ctx, makeBankTransaction(15, "FUEL PURCHASE", "150.00", "")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	manager, err := store.NewBackupManager()
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	meta, err := manager.Create(ctx, "pre-cleanup", "before january corrections")
	if err != nil {
		t.Fatalf("Failed to create backup: %v", err)
	}
	if meta.ID != "pre-cleanup" {
		t.Errorf("id = %s, want pre-cleanup", meta.ID)
	}
	if meta.FileSize == 0 {
		t.Error("backup file is empty")
	}
	if meta.RowCounts["bank_transactions"] != 1 {
		t.Errorf("row count = %d, want 1", meta.RowCounts["bank_transactions"])
	}
	if meta.SchemaVersion != ExpectedSchemaVersion {
		t.Errorf("schema version = %d, want %d", meta.SchemaVersion, ExpectedSchemaVersion)
	}

	// Same tag twice is refused.
	if _, err := manager.Create(ctx, "pre-cleanup", ""); !errors.Is(err, ErrBackupExists) {
		t.Errorf("expected ErrBackupExists, got %v", err)
	}

	backups, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(backups) != 1 || backups[0].ID != "pre-cleanup" {
		t.Errorf("list = %+v, want the one backup", backups)
	}
}

func TestBackupRejectsPathTraversal(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	manager, err := store.NewBackupManager()
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if _, err := manager.Create(context.Background(), "../escape", ""); err == nil {
		t.Error("expected tag validation error")
	}
	if err := manager.Restore(context.Background(), "missing-backup"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound, got %v", err)
	}
}
