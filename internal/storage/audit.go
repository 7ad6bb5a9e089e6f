package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harborline/tally/internal/service"
)

// AppendAuditRecord writes one immutable audit entry. Destructive
// corrections call this, with a snapshot of prior state, before mutating
// anything in the same transaction.
func (s *SQLiteStorage) AppendAuditRecord(ctx context.Context, rec *service.AuditRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.appendAuditRecordTx(ctx, s.db, rec)
}

func (s *SQLiteStorage) appendAuditRecordTx(ctx context.Context, q queryable, rec *service.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record must not be nil")
	}
	if err := validateString(rec.Action, "action"); err != nil {
		return err
	}
	if err := validateString(rec.EntityTable, "entityTable"); err != nil {
		return err
	}

	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (
			occurred_at, actor, action, entity_table, entity_id, prior_state, note
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		occurredAt,
		rec.Actor,
		rec.Action,
		rec.EntityTable,
		rec.EntityID,
		rec.PriorState,
		rec.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// GetAuditRecords lists audit entries for one entity, oldest first.
func (s *SQLiteStorage) GetAuditRecords(ctx context.Context, entityTable string, entityID int64) ([]service.AuditRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAuditRecordsTx(ctx, s.db, entityTable, entityID)
}

func (s *SQLiteStorage) getAuditRecordsTx(ctx context.Context, q queryable, entityTable string, entityID int64) ([]service.AuditRecord, error) {
	if err := validateString(entityTable, "entityTable"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, occurred_at, actor, action, entity_table, entity_id, prior_state, note
		FROM audit_log
		WHERE entity_table = ? AND entity_id = ?
		ORDER BY id ASC
	`, entityTable, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []service.AuditRecord
	for rows.Next() {
		var rec service.AuditRecord
		var priorState, note sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.OccurredAt,
			&rec.Actor,
			&rec.Action,
			&rec.EntityTable,
			&rec.EntityID,
			&priorState,
			&note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if priorState.Valid {
			rec.PriorState = priorState.String
		}
		if note.Valid {
			rec.Note = note.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SnapshotJSON serializes prior state for an audit record.
func SnapshotJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot prior state: %w", err)
	}
	return string(data), nil
}
