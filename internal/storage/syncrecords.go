package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// GetSyncRecord returns the sync record for a ledger transaction, or nil if
// the transaction has never been seen.
func (s *SQLiteStorage) GetSyncRecord(ctx context.Context, transactionID string) (*model.SyncRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, status, basis, source_refs, updated_at
		FROM sync_records WHERE transaction_id = ?`, transactionID)

	record, err := scanSyncRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return record, nil
}

// SaveSyncRecord inserts or updates a sync record. Status transitions,
// except the initial insert, must be legal per SyncStatus.CanTransition;
// an illegal transition is rejected so a bug cannot silently rewind the
// pipeline.
func (s *SQLiteStorage) SaveSyncRecord(ctx context.Context, record *model.SyncRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSyncRecord(record); err != nil {
		return err
	}

	existing, err := s.GetSyncRecord(ctx, record.TransactionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != record.Status {
		if !existing.Status.CanTransition(record.Status) {
			return fmt.Errorf("illegal sync transition %s -> %s for transaction %s",
				existing.Status, record.Status, record.TransactionID)
		}
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_records (transaction_id, status, basis, source_refs, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			status = excluded.status,
			basis = excluded.basis,
			source_refs = excluded.source_refs,
			updated_at = excluded.updated_at`,
		record.TransactionID,
		string(record.Status),
		string(record.Basis),
		strings.Join(record.SourceRefs, ","),
		record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save sync record: %w", err)
	}
	return nil
}

// GetSyncRecordsByStatus returns all sync records in the given status.
func (s *SQLiteStorage) GetSyncRecordsByStatus(ctx context.Context, status model.SyncStatus) ([]model.SyncRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, status, basis, source_refs, updated_at
		FROM sync_records WHERE status = ? ORDER BY transaction_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query sync records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.SyncRecord
	for rows.Next() {
		record, scanErr := scanSyncRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", scanErr)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRecord(row rowScanner) (*model.SyncRecord, error) {
	var record model.SyncRecord
	var status, basis, refs string
	if err := row.Scan(&record.TransactionID, &status, &basis, &refs, &record.UpdatedAt); err != nil {
		return nil, err
	}
	record.Status = model.SyncStatus(status)
	record.Basis = model.MatchBasis(basis)
	if refs != "" {
		record.SourceRefs = strings.Split(refs, ",")
	}
	return &record, nil
}
