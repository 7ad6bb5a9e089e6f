package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/model"
)

const matchColumns = `
	id, banking_transaction_id, entity_type, entity_id, match_date,
	match_type, match_status, confidence, notes, created_by`

// InsertMatchRecord attaches an audit entry linking a bank transaction to a
// receipt or payment. The partial unique index on active matches makes a
// second active link for the same entity fail with common.ErrAlreadyLinked.
func (s *SQLiteStorage) InsertMatchRecord(ctx context.Context, m *model.MatchRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.insertMatchRecordTx(ctx, s.db, m)
}

func (s *SQLiteStorage) insertMatchRecordTx(ctx context.Context, q queryable, m *model.MatchRecord) error {
	if err := validateMatchRecord(m); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO match_records (
			id, banking_transaction_id, entity_type, entity_id, match_date,
			match_type, match_status, confidence, notes, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID,
		m.BankingTransactionID,
		string(m.EntityType),
		m.EntityID,
		m.MatchDate,
		string(m.MatchType),
		string(m.MatchStatus),
		m.Confidence,
		m.Notes,
		m.CreatedBy,
	)
	if err != nil {
		// The partial unique index on active matches reports its violation
		// by column list, not by index name.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
			strings.Contains(err.Error(), "match_records.entity_type") {
			return fmt.Errorf("%w: %s %d already has an active match", common.ErrAlreadyLinked, m.EntityType, m.EntityID)
		}
		return fmt.Errorf("failed to insert match record: %w", err)
	}
	return nil
}

// GetActiveMatchForEntity returns the live match record for a receipt or
// payment, or common.ErrNotFound.
func (s *SQLiteStorage) GetActiveMatchForEntity(ctx context.Context, entityType model.EntityType, entityID int64) (*model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveMatchForEntityTx(ctx, s.db, entityType, entityID)
}

func (s *SQLiteStorage) getActiveMatchForEntityTx(ctx context.Context, q queryable, entityType model.EntityType, entityID int64) (*model.MatchRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM match_records
		WHERE entity_type = ? AND entity_id = ? AND match_status = 'active'
	`, string(entityType), entityID)
	return scanMatchRecord(row)
}

// GetMatchRecordsForTransaction lists every match record (active and
// superseded) for one bank transaction.
func (s *SQLiteStorage) GetMatchRecordsForTransaction(ctx context.Context, bankingTransactionID int64) ([]model.MatchRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getMatchRecordsForTransactionTx(ctx, s.db, bankingTransactionID)
}

func (s *SQLiteStorage) getMatchRecordsForTransactionTx(ctx context.Context, q queryable, bankingTransactionID int64) ([]model.MatchRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM match_records
		WHERE banking_transaction_id = ?
		ORDER BY match_date ASC, id ASC
	`, bankingTransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MatchRecord
	for rows.Next() {
		rec, scanErr := scanMatchRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SupersedeMatchRecord retires a match record during a correction. Records
// are never deleted; the note explains the correction.
func (s *SQLiteStorage) SupersedeMatchRecord(ctx context.Context, matchID, note string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.supersedeMatchRecordTx(ctx, s.db, matchID, note)
}

func (s *SQLiteStorage) supersedeMatchRecordTx(ctx context.Context, q queryable, matchID, note string) error {
	if err := validateString(matchID, "matchID"); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE match_records
		SET match_status = 'superseded', notes = notes || ' | ' || ?
		WHERE id = ? AND match_status = 'active'
	`, note, matchID)
	if err != nil {
		return fmt.Errorf("failed to supersede match record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanMatchRecord(row rowScanner) (*model.MatchRecord, error) {
	var m model.MatchRecord
	var entityType, matchType, matchStatus string
	var notes, createdBy sql.NullString

	err := row.Scan(
		&m.ID,
		&m.BankingTransactionID,
		&entityType,
		&m.EntityID,
		&m.MatchDate,
		&matchType,
		&matchStatus,
		&m.Confidence,
		&notes,
		&createdBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan match record: %w", err)
	}

	m.EntityType = model.EntityType(entityType)
	m.MatchType = model.MatchType(matchType)
	m.MatchStatus = model.MatchStatus(matchStatus)
	if notes.Valid {
		m.Notes = notes.String
	}
	if createdBy.Valid {
		m.CreatedBy = createdBy.String
	}
	return &m, nil
}
