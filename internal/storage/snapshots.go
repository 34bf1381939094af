package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// SaveSnapshot stores the pre-split state of a transaction. An existing
// snapshot for the same transaction is left untouched: the first snapshot
// is the true pre-split state, and overwriting it after a re-split would
// lose the original.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snapshot *model.TransactionSnapshot) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSnapshot(snapshot); err != nil {
		return err
	}

	if snapshot.TakenAt.IsZero() {
		snapshot.TakenAt = time.Now()
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (transaction_id, payload, taken_at)
		VALUES (?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING`,
		snapshot.TransactionID, string(payload), snapshot.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the pre-split snapshot for a transaction, or nil.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, transactionID string) (*model.TransactionSnapshot, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE transaction_id = ?`, transactionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot model.TransactionSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt snapshot payload: %w", err)
	}
	return &snapshot, nil
}

// DeleteSnapshot removes a consumed snapshot.
func (s *SQLiteStorage) DeleteSnapshot(ctx context.Context, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
